// Command confsync backs up and restores configuration files with git.
package main

import (
	"github.com/confsync/confsync/internal/cli"
)

func main() {
	cli.Execute()
}
