package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/repo"
	"github.com/confsync/confsync/internal/util"
)

// State is the engine's current position in the backup state machine.
type State int32

const (
	// StateIdle means no operation is in flight.
	StateIdle State = iota
	// StateStaging means change detection is running.
	StateStaging
	// StateCommitting means a backup record is being created.
	StateCommitting
	// StatePushing means the new record is being published.
	StatePushing
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStaging:
		return "staging"
	case StateCommitting:
		return "committing"
	case StatePushing:
		return "pushing"
	default:
		return "unknown"
	}
}

// LatestTarget selects the most recent backup record in Restore.
const LatestTarget = "@latest"

// minIDPrefix is the shortest record id prefix Restore accepts.
const minIDPrefix = 7

// BackupOptions controls one backup run.
type BackupOptions struct {
	// Message overrides the generated commit message.
	Message string
	// Force creates a record even when nothing changed.
	Force bool
	// DryRun reports the pending change set without mutating anything.
	DryRun bool
	// NoPush skips publishing even when a remote is configured.
	NoPush bool
}

// BackupResult reports what a backup run did (or would do, for dry runs).
type BackupResult struct {
	// Record is the new backup record; nil for dry runs and no-ops.
	Record *repo.BackupRecord
	// Changes is the detected pending change set.
	Changes *ChangeSet
	// NoChanges is set when nothing needed backing up (not an error).
	NoChanges bool
	// DryRun is set when no state was mutated.
	DryRun bool
	// Pushed is set when the record reached the remote.
	Pushed bool
}

// RestoreOptions controls one restore run.
type RestoreOptions struct {
	// Target is @latest (or empty), a record id, or an id prefix of at
	// least 7 characters.
	Target string
	// Force restores over uncommitted local edits.
	Force bool
	// DryRun reports what would be written without touching disk.
	DryRun bool
}

// RestoredFile is one file written by a restore.
type RestoredFile struct {
	RepoPath string
	AbsPath  string
}

// FileError is a per-file failure inside a multi-file operation.
type FileError struct {
	Path string
	Err  error
}

// RestoreResult reports which files a restore wrote or would write.
type RestoreResult struct {
	// Record is the backup record restored from.
	Record *repo.BackupRecord
	// Restored lists files written, in repository path order.
	Restored []RestoredFile
	// Failed lists files that could not be written; the rest of the batch
	// still completes.
	Failed []FileError
	// Planned lists the absolute paths a dry run would overwrite.
	Planned []string
}

// Engine orchestrates backup and restore for one profile. At most one
// operation runs at a time per profile; concurrent calls fail with
// ErrEngineBusy rather than queueing.
type Engine struct {
	mu        sync.Mutex
	state     atomic.Int32
	profileID string
	env       *util.Env
	reg       *registry.Registry
	backend   repo.Backend
	detector  *Detector

	hookMu   sync.Mutex
	idleHook func()
}

// New creates an engine bound to one profile's registry and backend.
func New(profileID string, env *util.Env, reg *registry.Registry, backend repo.Backend, detector *Detector) *Engine {
	return &Engine{
		profileID: profileID,
		env:       env,
		reg:       reg,
		backend:   backend,
		detector:  detector,
	}
}

// ProfileID returns the identity the engine's lock is keyed by.
func (e *Engine) ProfileID() string {
	return e.profileID
}

// State returns the engine's current state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Busy reports whether an operation is in flight.
func (e *Engine) Busy() bool {
	if e.mu.TryLock() {
		e.mu.Unlock()
		return false
	}
	return true
}

// SetIdleHook registers fn to run each time an operation finishes and the
// engine returns to idle. Used by the watch scheduler to flush pending
// triggers. fn must not call back into the engine synchronously.
func (e *Engine) SetIdleHook(fn func()) {
	e.hookMu.Lock()
	e.idleHook = fn
	e.hookMu.Unlock()
}

func (e *Engine) notifyIdle() {
	e.hookMu.Lock()
	fn := e.idleHook
	e.hookMu.Unlock()
	if fn != nil {
		fn()
	}
}

// DefaultMessage generates the commit message used when the caller supplies
// none.
func DefaultMessage(now time.Time) string {
	return "confsync backup " + now.Format(time.DateTime)
}

// Ahead reports how many backups await a push. Read-only.
func (e *Engine) Ahead(ctx context.Context) (int, error) {
	return e.backend.Ahead(ctx)
}

// History returns all backup records, newest first. Read-only.
func (e *Engine) History(ctx context.Context) ([]repo.BackupRecord, error) {
	return e.backend.History(ctx)
}

// Pending computes the current pending change set without taking the
// operation lock. Read-only.
func (e *Engine) Pending(ctx context.Context) (*ChangeSet, error) {
	snap, err := e.backend.ReadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	state, err := e.detector.Scan(e.reg)
	if err != nil {
		return nil, err
	}
	return e.detector.Diff(e.reg, state, snap), nil
}

// Backup detects pending changes and records them: stage, commit, push.
// A push failure leaves the new record intact and surfaces ErrPushRejected
// alongside the result; the caller retries the push explicitly.
func (e *Engine) Backup(ctx context.Context, opts BackupOptions) (*BackupResult, error) {
	if !e.mu.TryLock() {
		return nil, fmt.Errorf("%w (profile %s)", ErrEngineBusy, e.profileID)
	}
	defer func() {
		e.state.Store(int32(StateIdle))
		e.mu.Unlock()
		e.notifyIdle()
	}()

	e.state.Store(int32(StateStaging))
	snap, err := e.backend.ReadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	working, err := e.detector.Scan(e.reg)
	if err != nil {
		return nil, err
	}
	changes := e.detector.Diff(e.reg, working, snap)

	if changes.Empty() && !opts.Force {
		return &BackupResult{Changes: changes, NoChanges: true}, nil
	}
	if opts.DryRun {
		return &BackupResult{Changes: changes, DryRun: true}, nil
	}

	e.state.Store(int32(StateCommitting))
	message := opts.Message
	if message == "" {
		message = DefaultMessage(time.Now())
	}
	record, err := e.backend.StageAndCommit(ctx, stagedOps(working), message)
	if err != nil {
		return nil, fmt.Errorf("backup failed: %w", err)
	}
	result := &BackupResult{Record: record, Changes: changes}

	e.state.Store(int32(StatePushing))
	if e.backend.HasRemote() && !opts.NoPush {
		if err := e.backend.Push(ctx); err != nil {
			// Partial success: the local record exists and stays.
			return result, err
		}
		result.Pushed = true
	}

	return result, nil
}

// stagedOps converts the full working state into the staged tree handed to
// the backend, in repository path order.
func stagedOps(state *WorkingState) []repo.StagedOp {
	ops := make([]repo.StagedOp, 0, len(state.Files))
	for rp, wf := range state.Files {
		ops = append(ops, repo.StagedOp{RepoPath: rp, Content: wf.Content, Mode: wf.Mode})
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].RepoPath < ops[j].RepoPath })
	return ops
}

// Restore writes the content of a backup record back to disk. It refuses to
// overwrite uncommitted local edits unless forced, writes files additively
// (never deleting paths absent from the record), and advances the snapshot
// reference on full success.
func (e *Engine) Restore(ctx context.Context, opts RestoreOptions) (*RestoreResult, error) {
	if !e.mu.TryLock() {
		return nil, fmt.Errorf("%w (profile %s)", ErrEngineBusy, e.profileID)
	}
	defer func() {
		e.state.Store(int32(StateIdle))
		e.mu.Unlock()
		e.notifyIdle()
	}()

	record, err := e.resolveRecord(ctx, opts.Target)
	if err != nil {
		return nil, err
	}

	snap, err := e.backend.ReadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	working, err := e.detector.Scan(e.reg)
	if err != nil {
		return nil, err
	}
	if changes := e.detector.Diff(e.reg, working, snap); !changes.Empty() && !opts.Force {
		return nil, fmt.Errorf("%w: %s (back up first or use --force)", ErrDirtyWorkingTree, changes.Summary())
	}

	contents, err := e.backend.Checkout(ctx, record.ID)
	if err != nil {
		return nil, err
	}

	repoPaths := make([]string, 0, len(contents))
	for rp := range contents {
		repoPaths = append(repoPaths, rp)
	}
	sort.Strings(repoPaths)

	result := &RestoreResult{Record: record}

	if opts.DryRun {
		for _, rp := range repoPaths {
			abs, err := registry.AbsPath(e.reg.Home(), rp)
			if err != nil {
				result.Failed = append(result.Failed, FileError{Path: rp, Err: err})
				continue
			}
			result.Planned = append(result.Planned, abs)
		}
		return result, nil
	}

	for _, rp := range repoPaths {
		abs, err := registry.AbsPath(e.reg.Home(), rp)
		if err != nil {
			result.Failed = append(result.Failed, FileError{Path: rp, Err: err})
			continue
		}
		if err := e.writeFile(abs, contents[rp]); err != nil {
			result.Failed = append(result.Failed, FileError{Path: abs, Err: err})
			continue
		}
		result.Restored = append(result.Restored, RestoredFile{RepoPath: rp, AbsPath: abs})
	}

	if len(result.Failed) > 0 {
		// Keep the old baseline so failed files show up as pending changes.
		return result, fmt.Errorf("restored %d of %d files (%d failed)",
			len(result.Restored), len(repoPaths), len(result.Failed))
	}

	if err := e.backend.AdvanceSnapshot(ctx, record.ID); err != nil {
		return result, err
	}
	return result, nil
}

func (e *Engine) writeFile(abs string, fc repo.FileContent) error {
	if err := e.env.Fs.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	mode := fc.Mode
	if mode == 0 {
		mode = 0644
	}
	if err := afero.WriteFile(e.env.Fs, abs, fc.Data, mode); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	// WriteFile's mode only applies on create; an existing file keeps its
	// old mode, so restate it.
	if err := e.env.Fs.Chmod(abs, mode); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	return nil
}

// resolveRecord maps a restore target to a backup record: @latest (or
// empty), a full id, or an unambiguous id prefix.
func (e *Engine) resolveRecord(ctx context.Context, target string) (*repo.BackupRecord, error) {
	history, err := e.backend.History(ctx)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: no backups exist yet", repo.ErrRecordNotFound)
	}

	if target == "" || target == LatestTarget {
		return &history[0], nil
	}

	var match *repo.BackupRecord
	for i := range history {
		switch {
		case history[i].ID == target:
			return &history[i], nil
		case len(target) >= minIDPrefix && strings.HasPrefix(history[i].ID, target):
			if match != nil {
				return nil, fmt.Errorf("%w: %q is ambiguous", repo.ErrRecordNotFound, target)
			}
			match = &history[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %q", repo.ErrRecordNotFound, target)
	}
	return match, nil
}
