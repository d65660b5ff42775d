package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/engine"
	"github.com/confsync/confsync/internal/repo"
	"github.com/confsync/confsync/internal/util"
)

var (
	backupMessage string
	backupForce   bool
	backupDryRun  bool
	backupNoPush  bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Record the current state of all tracked paths",
	Long: `Detect changes since the last backup and record them as a new backup.
When the profile has a remote, the backup is pushed afterwards; a rejected
push keeps the local backup intact.`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVarP(&backupMessage, "message", "m", "", "backup message")
	backupCmd.Flags().BoolVar(&backupForce, "force", false, "record a backup even when nothing changed")
	backupCmd.Flags().BoolVar(&backupDryRun, "dry-run", false, "show what would be backed up without doing it")
	backupCmd.Flags().BoolVar(&backupNoPush, "no-push", false, "skip pushing to the remote")
}

func runBackup(cmd *cobra.Command, args []string) error {
	env := util.NewOsEnv()
	m, err := loadManager(env)
	if err != nil {
		return err
	}
	name := selectedProfile(m)

	eng, err := m.Engine(name)
	if err != nil {
		return err
	}

	res, err := eng.Backup(cmd.Context(), engine.BackupOptions{
		Message: backupMessage,
		Force:   backupForce,
		DryRun:  backupDryRun,
		NoPush:  backupNoPush,
	})
	// A push failure still leaves a local backup behind; report it before
	// surfacing the error.
	if err != nil && res == nil {
		return err
	}

	switch {
	case res.NoChanges:
		fmt.Println("Nothing to back up.")
		return nil
	case res.DryRun:
		fmt.Printf("Would back up %s:\n", res.Changes.Summary())
		printChanges(os.Stdout, res.Changes)
		return nil
	}

	progressDone(os.Stdout, "Backup %s recorded (%s)\n", res.Record.ShortID(), res.Changes.Summary())

	if errors.Is(err, repo.ErrPushRejected) {
		return fmt.Errorf("the remote rejected the push, backup kept locally: %w", err)
	}
	if err != nil {
		return fmt.Errorf("push failed, backup kept locally: %w", err)
	}
	if res.Pushed {
		progressDone(os.Stdout, "Pushed to remote\n")
	}
	return nil
}
