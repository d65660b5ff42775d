package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/config"
)

var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Print configuration and data locations",
	RunE:  runPaths,
}

func runPaths(cmd *cobra.Command, args []string) error {
	fmt.Printf("Config:       %s\n", config.FilePath())
	fmt.Printf("Repositories: %s\n", config.DataDir())
	return nil
}
