package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/util"
)

var untrackCmd = &cobra.Command{
	Use:   "untrack <path|alias>",
	Short: "Stop tracking a path",
	Long: `Stop tracking a path, by alias or by path. The file itself and its
backup history are left alone; the repository copy shows up as a pending
removal and is dropped by the next backup.`,
	Args: cobra.ExactArgs(1),
	RunE: runUntrack,
}

func runUntrack(cmd *cobra.Command, args []string) error {
	env := util.NewOsEnv()
	m, err := loadManager(env)
	if err != nil {
		return err
	}
	name := selectedProfile(m)

	reg, err := m.Registry(name)
	if err != nil {
		return err
	}
	entry, err := reg.Unregister(args[0])
	if err != nil {
		return err
	}
	if err := m.SaveRegistry(name); err != nil {
		return err
	}

	progressDone(os.Stdout, "Stopped tracking %s\n", entry.Path)
	return nil
}
