// Package engine implements change detection and the backup/restore sync
// engine for one profile.
package engine

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/repo"
	"github.com/confsync/confsync/internal/util"
)

// WorkingFile is the current on-disk state of one tracked file.
type WorkingFile struct {
	Entry   registry.Entry
	AbsPath string
	Content []byte
	Mode    os.FileMode
}

// WorkingState is the scanned on-disk content of every tracked entry, keyed
// by repository-relative path.
type WorkingState struct {
	Files map[string]WorkingFile
}

// Change is one added, modified, or deleted file in a pending change set.
type Change struct {
	Entry    registry.Entry
	RepoPath string
	AbsPath  string
}

// ChangeSet is the delta between the working state and the snapshot.
// Recomputed per operation, never persisted.
type ChangeSet struct {
	Added    []Change
	Modified []Change
	Deleted  []Change
}

// Empty reports whether nothing changed.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Modified) == 0 && len(cs.Deleted) == 0
}

// Len returns the total number of changed files.
func (cs *ChangeSet) Len() int {
	return len(cs.Added) + len(cs.Modified) + len(cs.Deleted)
}

// Paths returns every changed repository path, sorted.
func (cs *ChangeSet) Paths() []string {
	paths := make([]string, 0, cs.Len())
	for _, c := range cs.Added {
		paths = append(paths, c.RepoPath)
	}
	for _, c := range cs.Modified {
		paths = append(paths, c.RepoPath)
	}
	for _, c := range cs.Deleted {
		paths = append(paths, c.RepoPath)
	}
	sort.Strings(paths)
	return paths
}

// Summary returns a short human-readable description of the change set.
func (cs *ChangeSet) Summary() string {
	if cs.Empty() {
		return "no changes"
	}
	return fmt.Sprintf("%d added, %d modified, %d deleted",
		len(cs.Added), len(cs.Modified), len(cs.Deleted))
}

// Detector computes the delta between tracked entries on disk and the last
// snapshot. Read-only and deterministic: directory traversal is
// lexicographic and exclusion rules are pure glob matches.
type Detector struct {
	env     *util.Env
	exclude []string
}

// NewDetector creates a detector with the given exclusion glob patterns
// (matched against base names and entry-relative paths).
func NewDetector(env *util.Env, exclude []string) *Detector {
	return &Detector{env: env, exclude: exclude}
}

// Scan reads the current on-disk content of every tracked entry. Tracked
// directories are walked recursively; files added inside them after
// registration are auto-included unless excluded.
func (d *Detector) Scan(reg *registry.Registry) (*WorkingState, error) {
	state := &WorkingState{Files: map[string]WorkingFile{}}

	for _, entry := range reg.Entries() {
		switch entry.Kind {
		case registry.KindDirectory:
			if err := d.scanDir(state, entry); err != nil {
				return nil, err
			}
		default:
			if err := d.scanFile(state, entry); err != nil {
				return nil, err
			}
		}
	}
	return state, nil
}

func (d *Detector) scanFile(state *WorkingState, entry registry.Entry) error {
	info, err := d.env.Fs.Stat(entry.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // deleted on disk, shows up as a deletion in Diff
		}
		return fmt.Errorf("failed to stat %s: %w", entry.Path, err)
	}
	content, err := afero.ReadFile(d.env.Fs, entry.Path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", entry.Path, err)
	}
	state.Files[entry.RepoPath] = WorkingFile{
		Entry:   entry,
		AbsPath: entry.Path,
		Content: content,
		Mode:    info.Mode().Perm(),
	}
	return nil
}

func (d *Detector) scanDir(state *WorkingState, entry registry.Entry) error {
	exists, err := afero.DirExists(d.env.Fs, entry.Path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", entry.Path, err)
	}
	if !exists {
		return nil
	}

	// afero.Walk visits entries in lexical order, which keeps the scan
	// repeatable.
	return afero.Walk(d.env.Fs, entry.Path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", p, err)
		}
		rel, relErr := filepath.Rel(entry.Path, p)
		if relErr != nil {
			return relErr
		}
		if rel != "." && d.excluded(rel, info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		content, err := afero.ReadFile(d.env.Fs, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		repoPath := path.Join(entry.RepoPath, filepath.ToSlash(rel))
		state.Files[repoPath] = WorkingFile{
			Entry:   entry,
			AbsPath: p,
			Content: content,
			Mode:    info.Mode().Perm(),
		}
		return nil
	})
}

func (d *Detector) excluded(rel, base string) bool {
	return Excluded(d.exclude, filepath.ToSlash(rel), base)
}

// Excluded reports whether an exclusion pattern matches the base name or the
// entry-relative slash-separated path. The watcher shares this so events and
// scans agree on what is excluded.
func Excluded(patterns []string, rel, base string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Diff compares the working state against the snapshot. A file is added if
// present on disk but absent from the snapshot, modified if its content hash
// differs, and deleted if the snapshot has it but the working state does
// not. Snapshot paths that belong to no tracked entry count as deletions
// too, so untracking a path leaves a pending removal that the next backup
// drops from the repository.
func (d *Detector) Diff(reg *registry.Registry, state *WorkingState, snap *repo.Snapshot) *ChangeSet {
	cs := &ChangeSet{}

	repoPaths := make([]string, 0, len(state.Files))
	for rp := range state.Files {
		repoPaths = append(repoPaths, rp)
	}
	sort.Strings(repoPaths)

	for _, rp := range repoPaths {
		wf := state.Files[rp]
		change := Change{Entry: wf.Entry, RepoPath: rp, AbsPath: wf.AbsPath}
		recorded, ok := snap.Files[rp]
		if !ok {
			cs.Added = append(cs.Added, change)
			continue
		}
		if recorded.Hash != repo.HashBytes(wf.Content) {
			cs.Modified = append(cs.Modified, change)
		}
	}

	snapPaths := make([]string, 0, len(snap.Files))
	for rp := range snap.Files {
		snapPaths = append(snapPaths, rp)
	}
	sort.Strings(snapPaths)

	for _, rp := range snapPaths {
		if _, onDisk := state.Files[rp]; onDisk {
			continue
		}
		entry, _ := owningEntry(reg, rp)
		abs, err := registry.AbsPath(reg.Home(), rp)
		if err != nil {
			abs = ""
		}
		cs.Deleted = append(cs.Deleted, Change{Entry: entry, RepoPath: rp, AbsPath: abs})
	}

	return cs
}

// owningEntry finds the tracked entry whose repository path contains rp.
func owningEntry(reg *registry.Registry, rp string) (registry.Entry, bool) {
	for _, e := range reg.Entries() {
		if rp == e.RepoPath || strings.HasPrefix(rp, e.RepoPath+"/") {
			return e, true
		}
	}
	return registry.Entry{}, false
}
