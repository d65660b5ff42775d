package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/config"
	"github.com/confsync/confsync/internal/repo"
	"github.com/confsync/confsync/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending changes and repository state",
	Long: `Show the selected profile, its pending changes since the last backup,
and how many backups still await a push.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	env := util.NewReadonlyOsEnv()
	m, err := loadManager(env)
	if err != nil {
		if errors.Is(err, config.ErrNotInitialized) {
			fmt.Println("Status: not initialized")
			fmt.Println("")
			fmt.Println("Run 'confsync init' to get started.")
			return nil
		}
		return err
	}
	name := selectedProfile(m)

	eng, err := m.Engine(name)
	if err != nil {
		return err
	}
	reg, err := m.Registry(name)
	if err != nil {
		return err
	}

	fmt.Printf("Profile: %s\n", name)
	fmt.Printf("Tracked: %d path(s)\n", reg.Len())

	changes, err := eng.Pending(cmd.Context())
	if err != nil {
		return err
	}
	if changes.Empty() {
		fmt.Println("Changes: none")
	} else {
		fmt.Printf("Changes: %s\n", changes.Summary())
		printChanges(os.Stdout, changes)
	}

	ahead, err := eng.Ahead(cmd.Context())
	switch {
	case errors.Is(err, repo.ErrNoRemote):
		fmt.Println("Remote:  none (local-only)")
	case err != nil:
		return err
	case ahead == 0:
		fmt.Println("Remote:  up to date")
	default:
		fmt.Printf("Remote:  %d backup(s) not pushed\n", ahead)
	}
	return nil
}
