package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/confsync/confsync/internal/engine"
	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/util"
)

var (
	restoreForce  bool
	restoreDryRun bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore [backup-id]",
	Short: "Write a backup's content back to disk",
	Long: `Restore tracked files from a backup. Without an argument (or with
@latest) the most recent backup is used; otherwise pass a backup id or an
id prefix of at least 7 characters.

Restore refuses to overwrite uncommitted local changes unless --force is
given. Files are written additively: paths missing from the backup are
left untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().BoolVar(&restoreForce, "force", false, "overwrite uncommitted local changes")
	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "show what would be restored without writing")
}

func runRestore(cmd *cobra.Command, args []string) error {
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
	reg, err := m.Registry(name)
	if err != nil {
		return err
	}

	if !restoreDryRun {
		if err := checkWritable(env, reg.Entries()); err != nil {
			return err
		}
	}

	target := ""
	if len(args) == 1 {
		target = args[0]
	}

	res, err := eng.Restore(cmd.Context(), engine.RestoreOptions{
		Target: target,
		Force:  restoreForce,
		DryRun: restoreDryRun,
	})
	if err != nil {
		if errors.Is(err, engine.ErrDirtyWorkingTree) {
			return fmt.Errorf("%w\nback up first, or pass --force to overwrite", err)
		}
		if res == nil {
			return err
		}
		for _, f := range res.Failed {
			fmt.Fprintf(os.Stderr, "  failed    %s: %v\n", f.Path, f.Err)
		}
		return err
	}

	if restoreDryRun {
		fmt.Printf("Would restore %d file(s) from backup %s:\n", len(res.Planned), res.Record.ShortID())
		for _, p := range res.Planned {
			fmt.Printf("  %s\n", p)
		}
		return nil
	}

	progressDone(os.Stdout, "Restored %d file(s) from backup %s\n", len(res.Restored), res.Record.ShortID())
	return nil
}

// checkWritable verifies up front that the restore targets are writable, so
// a permissions problem fails the whole run instead of half of it.
func checkWritable(env *util.Env, entries []registry.Entry) error {
	for _, e := range entries {
		dir := e.Path
		if e.Kind == registry.KindFile {
			dir = filepath.Dir(e.Path)
		}
		// Walk up to the nearest existing ancestor; restore may recreate
		// deleted directories.
		for {
			if _, err := env.Fs.Stat(dir); err == nil {
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
		if err := unix.Access(dir, unix.W_OK); err != nil {
			return fmt.Errorf("cannot restore %s: %s is not writable", e.Path, dir)
		}
	}
	return nil
}
