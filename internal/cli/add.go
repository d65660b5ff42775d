package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/util"
)

var (
	addAlias     string
	addEncrypted bool
	addForce     bool
)

var addCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Track a configuration file or directory",
	Long: `Track a file or directory so backups include it. Directories are backed
up recursively. An alias gives the path a short name for use in other
commands.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addAlias, "alias", "", "short name for the tracked path")
	addCmd.Flags().BoolVar(&addEncrypted, "encrypted", false, "mark the entry for encrypted storage")
	addCmd.Flags().BoolVar(&addForce, "force", false, "replace an existing entry for the same path")
}

func runAdd(cmd *cobra.Command, args []string) error {
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

	entry, err := reg.Register(args[0], addAlias, addEncrypted, addForce)
	if err != nil {
		if errors.Is(err, registry.ErrDuplicatePath) {
			return fmt.Errorf("%w (use --force to replace the entry)", err)
		}
		return err
	}
	if err := m.SaveRegistry(name); err != nil {
		return err
	}

	label := entry.Path
	if entry.Alias != "" {
		label = fmt.Sprintf("%s (%s)", entry.Path, entry.Alias)
	}
	progressDone(os.Stdout, "Tracking %s %s\n", entry.Kind, label)
	return nil
}
