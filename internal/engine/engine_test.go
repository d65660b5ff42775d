package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/spf13/afero"

	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/repo"
	"github.com/confsync/confsync/internal/util"
)

const testHome = "/home/user"

func newTestEngine(t *testing.T) (*Engine, *util.Env, *registry.Registry) {
	t.Helper()
	env := util.NewTestEnv()
	reg := registry.New(env, testHome)
	backend, err := repo.InitGit(memfs.New(), "")
	if err != nil {
		t.Fatalf("InitGit: %v", err)
	}
	return New("test-profile", env, reg, backend, NewDetector(env, nil)), env, reg
}

func writeTracked(t *testing.T, env *util.Env, reg *registry.Registry, path, content string) {
	t.Helper()
	if err := afero.WriteFile(env.Fs, path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
	if _, err := reg.Resolve(path); err == nil {
		return
	}
	if _, err := reg.Register(path, "", false, false); err != nil {
		t.Fatalf("Register(%s): %v", path, err)
	}
}

func TestBackupFirstRun(t *testing.T) {
	eng, env, reg := newTestEngine(t)
	writeTracked(t, env, reg, testHome+"/.bashrc", "export A=1\n")
	writeTracked(t, env, reg, "/etc/hosts", "127.0.0.1 localhost\n")

	res, err := eng.Backup(context.Background(), BackupOptions{})
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if res.Record == nil {
		t.Fatal("Backup returned nil record")
	}
	if res.NoChanges {
		t.Error("NoChanges = true, want false")
	}
	if got, want := len(res.Changes.Added), 2; got != want {
		t.Errorf("len(Added) = %d, want %d", got, want)
	}
	if res.Pushed {
		t.Error("Pushed = true with no remote configured")
	}
}

func TestBackupNoChanges(t *testing.T) {
	eng, env, reg := newTestEngine(t)
	writeTracked(t, env, reg, testHome+"/.bashrc", "export A=1\n")

	if _, err := eng.Backup(context.Background(), BackupOptions{}); err != nil {
		t.Fatalf("first Backup: %v", err)
	}
	res, err := eng.Backup(context.Background(), BackupOptions{})
	if err != nil {
		t.Fatalf("second Backup: %v", err)
	}
	if !res.NoChanges {
		t.Error("NoChanges = false, want true")
	}
	if res.Record != nil {
		t.Errorf("Record = %v, want nil", res.Record)
	}

	history, err := eng.backend.History(context.Background())
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if got, want := len(history), 1; got != want {
		t.Errorf("len(history) = %d, want %d", got, want)
	}
}

func TestBackupForceCreatesRecord(t *testing.T) {
	eng, env, reg := newTestEngine(t)
	writeTracked(t, env, reg, testHome+"/.bashrc", "export A=1\n")

	if _, err := eng.Backup(context.Background(), BackupOptions{}); err != nil {
		t.Fatalf("first Backup: %v", err)
	}
	res, err := eng.Backup(context.Background(), BackupOptions{Force: true, Message: "forced"})
	if err != nil {
		t.Fatalf("forced Backup: %v", err)
	}
	if res.Record == nil {
		t.Fatal("forced Backup returned nil record")
	}
	if got, want := res.Record.Message, "forced"; got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}
	if got, want := len(res.Record.Changed), 0; got != want {
		t.Errorf("len(Changed) = %d, want %d", got, want)
	}
}

func TestBackupDryRunNeverMutates(t *testing.T) {
	eng, env, reg := newTestEngine(t)
	writeTracked(t, env, reg, testHome+"/.bashrc", "export A=1\n")

	res, err := eng.Backup(context.Background(), BackupOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if !res.DryRun {
		t.Error("DryRun = false, want true")
	}
	if res.Record != nil {
		t.Errorf("Record = %v, want nil", res.Record)
	}
	if got, want := len(res.Changes.Added), 1; got != want {
		t.Errorf("len(Added) = %d, want %d", got, want)
	}

	history, err := eng.backend.History(context.Background())
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("dry run created %d records, want 0", len(history))
	}
	snap, err := eng.backend.ReadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if !snap.Empty() {
		t.Errorf("dry run advanced snapshot to %d files", len(snap.Files))
	}
}

func TestBackupDropsUntrackedPaths(t *testing.T) {
	eng, env, reg := newTestEngine(t)
	writeTracked(t, env, reg, testHome+"/.bashrc", "export A=1\n")
	writeTracked(t, env, reg, testHome+"/.npmrc", "registry=x\n")

	if _, err := eng.Backup(context.Background(), BackupOptions{}); err != nil {
		t.Fatalf("first Backup: %v", err)
	}
	if _, err := reg.Unregister(testHome + "/.npmrc"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	res, err := eng.Backup(context.Background(), BackupOptions{})
	if err != nil {
		t.Fatalf("second Backup: %v", err)
	}
	if res.NoChanges {
		t.Fatal("NoChanges = true, want a record dropping the untracked path")
	}
	if got := changePaths(res.Changes.Deleted); len(got) != 1 || got[0] != "home/.npmrc" {
		t.Errorf("Deleted = %v, want [home/.npmrc]", got)
	}

	snap, err := eng.backend.ReadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if _, ok := snap.Files["home/.npmrc"]; ok {
		t.Error("untracked path still present after backup")
	}
	if _, ok := snap.Files["home/.bashrc"]; !ok {
		t.Error("tracked path missing after backup")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	eng, env, reg := newTestEngine(t)
	path := testHome + "/.bashrc"
	writeTracked(t, env, reg, path, "export A=1\n")

	if _, err := eng.Backup(context.Background(), BackupOptions{}); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if err := env.Fs.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	res, err := eng.Restore(context.Background(), RestoreOptions{Target: LatestTarget})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got, want := len(res.Restored), 1; got != want {
		t.Fatalf("len(Restored) = %d, want %d", got, want)
	}
	if got, want := res.Restored[0].AbsPath, path; got != want {
		t.Errorf("AbsPath = %q, want %q", got, want)
	}
	content, err := afero.ReadFile(env.Fs, path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got, want := string(content), "export A=1\n"; got != want {
		t.Errorf("restored content = %q, want %q", got, want)
	}

	// The restore itself must not leave pending changes behind.
	pending, err := eng.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if !pending.Empty() {
		t.Errorf("pending after restore = %s, want none", pending.Summary())
	}
}

func TestRestoreOlderRecord(t *testing.T) {
	eng, env, reg := newTestEngine(t)
	path := testHome + "/.bashrc"
	writeTracked(t, env, reg, path, "version one\n")

	first, err := eng.Backup(context.Background(), BackupOptions{})
	if err != nil {
		t.Fatalf("first Backup: %v", err)
	}
	writeTracked(t, env, reg, path, "version two\n")
	if _, err := eng.Backup(context.Background(), BackupOptions{}); err != nil {
		t.Fatalf("second Backup: %v", err)
	}

	res, err := eng.Restore(context.Background(), RestoreOptions{Target: first.Record.ID})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got, want := res.Record.ID, first.Record.ID; got != want {
		t.Errorf("restored record = %s, want %s", got, want)
	}
	content, _ := afero.ReadFile(env.Fs, path)
	if got, want := string(content), "version one\n"; got != want {
		t.Errorf("content = %q, want %q", got, want)
	}

	// Reverting back to version two must produce a new record even though
	// that content already exists in history.
	writeTracked(t, env, reg, path, "version two\n")
	redo, err := eng.Backup(context.Background(), BackupOptions{})
	if err != nil {
		t.Fatalf("Backup after restore: %v", err)
	}
	if redo.NoChanges {
		t.Error("backup after restore reported no changes")
	}
}

func TestRestoreDirtyWorkingTree(t *testing.T) {
	eng, env, reg := newTestEngine(t)
	path := testHome + "/.bashrc"
	writeTracked(t, env, reg, path, "committed\n")

	if _, err := eng.Backup(context.Background(), BackupOptions{}); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	writeTracked(t, env, reg, path, "uncommitted edit\n")

	_, err := eng.Restore(context.Background(), RestoreOptions{Target: LatestTarget})
	if !errors.Is(err, ErrDirtyWorkingTree) {
		t.Fatalf("Restore error = %v, want ErrDirtyWorkingTree", err)
	}
	content, _ := afero.ReadFile(env.Fs, path)
	if got, want := string(content), "uncommitted edit\n"; got != want {
		t.Errorf("blocked restore modified file: %q", got)
	}

	if _, err := eng.Restore(context.Background(), RestoreOptions{Target: LatestTarget, Force: true}); err != nil {
		t.Fatalf("forced Restore: %v", err)
	}
	content, _ = afero.ReadFile(env.Fs, path)
	if got, want := string(content), "committed\n"; got != want {
		t.Errorf("content = %q, want %q", got, want)
	}
}

func TestRestoreDryRun(t *testing.T) {
	eng, env, reg := newTestEngine(t)
	path := testHome + "/.bashrc"
	writeTracked(t, env, reg, path, "original\n")

	if _, err := eng.Backup(context.Background(), BackupOptions{}); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if err := env.Fs.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	res, err := eng.Restore(context.Background(), RestoreOptions{DryRun: true, Force: true})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got, want := len(res.Planned), 1; got != want {
		t.Fatalf("len(Planned) = %d, want %d", got, want)
	}
	if got, want := res.Planned[0], path; got != want {
		t.Errorf("Planned[0] = %q, want %q", got, want)
	}
	if _, err := env.Fs.Stat(path); err == nil {
		t.Error("dry run wrote the file")
	}
}

func TestRestoreTargetResolution(t *testing.T) {
	eng, env, reg := newTestEngine(t)
	path := testHome + "/.bashrc"
	writeTracked(t, env, reg, path, "one\n")
	first, err := eng.Backup(context.Background(), BackupOptions{})
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	writeTracked(t, env, reg, path, "two\n")
	second, err := eng.Backup(context.Background(), BackupOptions{})
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}

	tests := []struct {
		name    string
		target  string
		wantID  string
		wantErr bool
	}{
		{name: "empty means latest", target: "", wantID: second.Record.ID},
		{name: "latest keyword", target: LatestTarget, wantID: second.Record.ID},
		{name: "full id", target: first.Record.ID, wantID: first.Record.ID},
		{name: "long prefix", target: first.Record.ID[:10], wantID: first.Record.ID},
		{name: "prefix too short", target: first.Record.ID[:4], wantErr: true},
		{name: "unknown id", target: strings.Repeat("f", 40), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := eng.resolveRecord(context.Background(), tt.target)
			if tt.wantErr {
				if !errors.Is(err, repo.ErrRecordNotFound) {
					t.Fatalf("resolveRecord(%q) error = %v, want ErrRecordNotFound", tt.target, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveRecord(%q): %v", tt.target, err)
			}
			if got := rec.ID; got != tt.wantID {
				t.Errorf("resolveRecord(%q) = %s, want %s", tt.target, got, tt.wantID)
			}
		})
	}
}

func TestRestorePartialFailure(t *testing.T) {
	eng, env, reg := newTestEngine(t)
	path := testHome + "/.bashrc"
	writeTracked(t, env, reg, path, "content\n")

	if _, err := eng.Backup(context.Background(), BackupOptions{}); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	snapBefore, _ := eng.backend.ReadSnapshot(context.Background())

	// Writes fail, scans still work.
	eng.env = &util.Env{Fs: afero.NewReadOnlyFs(env.Fs)}

	if err := env.Fs.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	res, err := eng.Restore(context.Background(), RestoreOptions{Force: true})
	if err == nil {
		t.Fatal("Restore succeeded on a read-only filesystem")
	}
	if got, want := len(res.Failed), 1; got != want {
		t.Fatalf("len(Failed) = %d, want %d", got, want)
	}
	if len(res.Restored) != 0 {
		t.Errorf("len(Restored) = %d, want 0", len(res.Restored))
	}

	// The snapshot must not advance past files that were never written.
	snapAfter, _ := eng.backend.ReadSnapshot(context.Background())
	if got, want := snapAfter.ID, snapBefore.ID; got != want {
		t.Errorf("snapshot = %s, want %s", got, want)
	}
}

func TestRestorePreservesFileMode(t *testing.T) {
	eng, env, reg := newTestEngine(t)
	script := testHome + "/bin/deploy.sh"
	if err := afero.WriteFile(env.Fs, script, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := reg.Register(script, "", false, false); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := eng.Backup(context.Background(), BackupOptions{}); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if err := env.Fs.Remove(script); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := eng.Restore(context.Background(), RestoreOptions{Force: true}); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	info, err := env.Fs.Stat(script)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Errorf("restored mode = %v, want executable", info.Mode().Perm())
	}
}

// stubBackend lets tests script backend behavior that is awkward to provoke
// through a real repository.
type stubBackend struct {
	snapshot   *repo.Snapshot
	history    []repo.BackupRecord
	pushErr    error
	hasRemote  bool
	commitGate chan struct{}
}

func (s *stubBackend) ReadSnapshot(ctx context.Context) (*repo.Snapshot, error) {
	if s.snapshot == nil {
		return &repo.Snapshot{Files: map[string]repo.FileState{}}, nil
	}
	return s.snapshot, nil
}

func (s *stubBackend) StageAndCommit(ctx context.Context, ops []repo.StagedOp, message string) (*repo.BackupRecord, error) {
	if s.commitGate != nil {
		<-s.commitGate
	}
	rec := repo.BackupRecord{ID: strings.Repeat("a", 40), Message: message}
	s.history = append([]repo.BackupRecord{rec}, s.history...)
	return &rec, nil
}

func (s *stubBackend) Push(ctx context.Context) error { return s.pushErr }

func (s *stubBackend) Checkout(ctx context.Context, id string) (map[string]repo.FileContent, error) {
	return map[string]repo.FileContent{}, nil
}

func (s *stubBackend) History(ctx context.Context) ([]repo.BackupRecord, error) {
	return s.history, nil
}

func (s *stubBackend) Ahead(ctx context.Context) (int, error) { return 0, nil }

func (s *stubBackend) AdvanceSnapshot(ctx context.Context, id string) error { return nil }

func (s *stubBackend) HasRemote() bool { return s.hasRemote }

func TestBackupPushRejected(t *testing.T) {
	env := util.NewTestEnv()
	reg := registry.New(env, testHome)
	backend := &stubBackend{hasRemote: true, pushErr: repo.ErrPushRejected}
	eng := New("test-profile", env, reg, backend, NewDetector(env, nil))
	writeTracked(t, env, reg, testHome+"/.bashrc", "content\n")

	res, err := eng.Backup(context.Background(), BackupOptions{})
	if !errors.Is(err, repo.ErrPushRejected) {
		t.Fatalf("Backup error = %v, want ErrPushRejected", err)
	}
	if res == nil || res.Record == nil {
		t.Fatal("rejected push discarded the local record")
	}
	if res.Pushed {
		t.Error("Pushed = true after rejected push")
	}
}

func TestBackupNoPushFlag(t *testing.T) {
	env := util.NewTestEnv()
	reg := registry.New(env, testHome)
	backend := &stubBackend{hasRemote: true, pushErr: repo.ErrPushRejected}
	eng := New("test-profile", env, reg, backend, NewDetector(env, nil))
	writeTracked(t, env, reg, testHome+"/.bashrc", "content\n")

	res, err := eng.Backup(context.Background(), BackupOptions{NoPush: true})
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if res.Pushed {
		t.Error("Pushed = true with NoPush set")
	}
}

func TestEngineBusy(t *testing.T) {
	env := util.NewTestEnv()
	reg := registry.New(env, testHome)
	gate := make(chan struct{})
	backend := &stubBackend{commitGate: gate}
	eng := New("test-profile", env, reg, backend, NewDetector(env, nil))
	writeTracked(t, env, reg, testHome+"/.bashrc", "content\n")

	done := make(chan error, 1)
	go func() {
		_, err := eng.Backup(context.Background(), BackupOptions{})
		done <- err
	}()

	// Wait until the first backup is blocked inside the commit.
	for eng.State() != StateCommitting {
	}

	if _, err := eng.Backup(context.Background(), BackupOptions{}); !errors.Is(err, ErrEngineBusy) {
		t.Errorf("concurrent Backup error = %v, want ErrEngineBusy", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Backup: %v", err)
	}
	if eng.Busy() {
		t.Error("Busy = true after backup finished")
	}
	if got, want := eng.State(), StateIdle; got != want {
		t.Errorf("State = %v, want %v", got, want)
	}
}

func TestIdleHookFires(t *testing.T) {
	eng, env, reg := newTestEngine(t)
	writeTracked(t, env, reg, testHome+"/.bashrc", "content\n")

	fired := make(chan struct{}, 4)
	eng.SetIdleHook(func() { fired <- struct{}{} })

	if _, err := eng.Backup(context.Background(), BackupOptions{}); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	select {
	case <-fired:
	default:
		t.Error("idle hook did not fire after backup")
	}
}
