package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/confsync/confsync/internal/engine"
	"github.com/confsync/confsync/internal/repo"
	"github.com/confsync/confsync/internal/util"
	"github.com/confsync/confsync/internal/watch"
)

var watchDebounceMs int

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch tracked paths and back up automatically",
	Long: `Watch every tracked path and run a backup after changes settle. Bursts
of events (editor saves, package upgrades) collapse into a single backup
once no event has arrived for the debounce window. Stop with Ctrl-C.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchDebounceMs, "debounce", 0, "debounce window in milliseconds (0 uses the configured value)")
}

// watchTarget adapts the engine to the scheduler. Triggered backups run on
// a background context so shutdown lets an in-flight backup finish.
type watchTarget struct {
	eng *engine.Engine
}

func (t *watchTarget) TriggerBackup() error {
	res, err := t.eng.Backup(context.Background(), engine.BackupOptions{})
	if err != nil {
		return err
	}
	if res.NoChanges {
		return nil
	}
	progressDone(os.Stdout, "Backup %s recorded (%s)\n", res.Record.ShortID(), res.Changes.Summary())
	return nil
}

func (t *watchTarget) Busy() bool {
	return t.eng.Busy()
}

func runWatch(cmd *cobra.Command, args []string) error {
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
	if reg.Len() == 0 {
		return fmt.Errorf("nothing to watch, add a path first with 'confsync add <path>'")
	}

	debounceMs := watchDebounceMs
	if debounceMs <= 0 {
		debounceMs = m.Config().Settings.DebounceMs
	}
	debounce := time.Duration(debounceMs) * time.Millisecond

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target := &watchTarget{eng: eng}
	scheduler := watch.NewScheduler(target, debounce, func(err error) {
		if err != nil && !errors.Is(err, repo.ErrPushRejected) {
			fmt.Fprintf(os.Stderr, "watch backup failed: %v\n", err)
		}
	})
	eng.SetIdleHook(scheduler.EngineIdle)

	watcher, err := watch.NewWatcher(reg, m.Config().Settings.Exclude, scheduler)
	if err != nil {
		return err
	}
	defer watcher.Close()

	progressStep(os.Stdout, "Watching %d path(s), debounce %s. Ctrl-C to stop.\n", reg.Len(), debounce)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	err = g.Wait()

	// A backup triggered before Ctrl-C is allowed to finish.
	if target.Busy() {
		progressStep(os.Stdout, "Waiting for the in-flight backup to finish...\n")
	}
	scheduler.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("\nStopped watching.")
	return nil
}
