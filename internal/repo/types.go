// Package repo defines the repository backend contract for confsync and its
// git implementation. A backend stores the last-synchronized content of every
// tracked entry and provides content-addressable access to backup history.
package repo

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/zeebo/xxh3"
)

// FileState is the recorded state of one file in a snapshot.
type FileState struct {
	Hash string
	Size int64
}

// Snapshot is the last-synchronized content baseline, keyed by
// repository-relative path.
type Snapshot struct {
	// ID is the backup record the snapshot points at; empty before the
	// first backup.
	ID    string
	Files map[string]FileState
}

// Empty reports whether the snapshot contains no files.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Files) == 0
}

// BackupRecord is one completed backup. Immutable once created.
type BackupRecord struct {
	// ID is the backend-assigned immutable identifier (the commit hash).
	ID        string
	Timestamp time.Time
	Message   string
	// Changed lists the repository-relative paths this backup touched.
	Changed []string
}

// ShortID returns a truncated identifier for display.
func (r *BackupRecord) ShortID() string {
	if len(r.ID) > 8 {
		return r.ID[:8]
	}
	return r.ID
}

// FileContent is the restorable content of one file in a backup record.
type FileContent struct {
	Data []byte
	Mode os.FileMode
}

// StagedOp is one file in the desired repository content. StageAndCommit
// receives the complete desired tree; files present in the repository but
// absent from the staged set are removed.
type StagedOp struct {
	RepoPath string
	Content  []byte
	Mode     os.FileMode
}

// Backend is the version-control collaborator the sync engine drives.
type Backend interface {
	// ReadSnapshot returns the content state at the current snapshot
	// reference. A repository with no backups yields an empty snapshot.
	ReadSnapshot(ctx context.Context) (*Snapshot, error)

	// StageAndCommit mirrors ops into the repository and commits, returning
	// the new record and advancing the snapshot reference to it. An empty
	// delta still produces a record (forced backups rely on this).
	StageAndCommit(ctx context.Context, ops []StagedOp, message string) (*BackupRecord, error)

	// Push publishes local records to the remote. Returns ErrNoRemote when
	// no remote is configured and ErrPushRejected when the remote refuses
	// the update; local history is never rolled back.
	Push(ctx context.Context) error

	// Checkout returns the full content of the record with the given id,
	// keyed by repository-relative path. File modes come back as recorded
	// at commit time.
	Checkout(ctx context.Context, id string) (map[string]FileContent, error)

	// History returns all backup records, newest first.
	History(ctx context.Context) ([]BackupRecord, error)

	// Ahead reports how many local records have not been pushed.
	// Returns ErrNoRemote when no remote is configured.
	Ahead(ctx context.Context) (int, error)

	// AdvanceSnapshot moves the snapshot reference to the record with the
	// given id.
	AdvanceSnapshot(ctx context.Context, id string) error

	// HasRemote reports whether a remote is configured.
	HasRemote() bool
}

// HashBytes returns the hex content hash used for change detection.
func HashBytes(data []byte) string {
	return fmt.Sprintf("%x", xxh3.Hash128(data).Bytes())
}
