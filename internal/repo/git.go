package repo

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	billyutil "github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

const (
	remoteName = "origin"

	committerName  = "confsync"
	committerEmail = "confsync@localhost"
)

// snapshotRefName points at the backup record that is the current change
// detection baseline. Advanced by successful backups and restores only.
var snapshotRefName = plumbing.ReferenceName("refs/confsync/snapshot")

// pushedRefName points at the last record known to be on the remote.
var pushedRefName = plumbing.ReferenceName("refs/confsync/pushed")

// GitBackend implements Backend on a git repository rooted at a billy
// filesystem. Production code passes an osfs rooted at the profile's data
// directory; tests pass memfs.
type GitBackend struct {
	fs        billy.Filesystem
	repo      *gogit.Repository
	hasRemote bool
}

var _ Backend = (*GitBackend)(nil)

// InitGit creates a new repository on fs with main as the initial branch,
// configuring origin when remoteURL is non-empty.
func InitGit(fs billy.Filesystem, remoteURL string) (*GitBackend, error) {
	storer, err := newStorage(fs)
	if err != nil {
		return nil, err
	}

	r, err := gogit.Init(storer, fs)
	if err != nil {
		return nil, fmt.Errorf("repository init failed: %w", err)
	}

	if err := r.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.Main)); err != nil {
		return nil, fmt.Errorf("failed to set initial branch: %w", err)
	}

	hasRemote := false
	if remoteURL != "" {
		_, err = r.CreateRemote(&gitconfig.RemoteConfig{
			Name: remoteName,
			URLs: []string{remoteURL},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure remote: %w", err)
		}
		hasRemote = true
	}

	return &GitBackend{fs: fs, repo: r, hasRemote: hasRemote}, nil
}

// OpenGit opens an existing repository on fs.
func OpenGit(fs billy.Filesystem) (*GitBackend, error) {
	storer, err := newStorage(fs)
	if err != nil {
		return nil, err
	}

	r, err := gogit.Open(storer, fs)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	_, remoteErr := r.Remote(remoteName)
	return &GitBackend{fs: fs, repo: r, hasRemote: remoteErr == nil}, nil
}

func newStorage(fs billy.Filesystem) (*filesystem.Storage, error) {
	dot, err := fs.Chroot(gogit.GitDirName)
	if err != nil {
		return nil, fmt.Errorf("failed to scope repository storage: %w", err)
	}
	return filesystem.NewStorage(dot, cache.NewObjectLRUDefault()), nil
}

// HasRemote reports whether origin is configured.
func (b *GitBackend) HasRemote() bool {
	return b.hasRemote
}

// ReadSnapshot returns the content state at the snapshot reference.
func (b *GitBackend) ReadSnapshot(ctx context.Context) (*Snapshot, error) {
	ref, err := b.repo.Reference(snapshotRefName, true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return &Snapshot{Files: map[string]FileState{}}, nil
		}
		return nil, fmt.Errorf("failed to read snapshot reference: %w", err)
	}

	commit, err := b.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot tree: %w", err)
	}

	files := map[string]FileState{}
	err = tree.Files().ForEach(func(f *object.File) error {
		contents, err := f.Contents()
		if err != nil {
			return fmt.Errorf("failed to read %s from snapshot: %w", f.Name, err)
		}
		files[f.Name] = FileState{Hash: HashBytes([]byte(contents)), Size: f.Size}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Snapshot{ID: ref.Hash().String(), Files: files}, nil
}

// StageAndCommit mirrors ops into the worktree (writing staged files,
// removing repository files absent from the staged set), commits, and
// advances the snapshot reference.
func (b *GitBackend) StageAndCommit(ctx context.Context, ops []StagedOp, message string) (*BackupRecord, error) {
	wt, err := b.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}

	staged := make(map[string]bool, len(ops))
	for _, op := range ops {
		staged[op.RepoPath] = true

		if dir := path.Dir(op.RepoPath); dir != "." {
			if err := b.fs.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		mode := op.Mode
		if mode == 0 {
			mode = 0644
		}
		if err := billyutil.WriteFile(b.fs, op.RepoPath, op.Content, mode); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", op.RepoPath, err)
		}
		if _, err := wt.Add(op.RepoPath); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", op.RepoPath, err)
		}
	}

	// Anything in the worktree that is not part of the staged set was
	// deleted on disk (or untracked): remove it so the commit tree mirrors
	// the staged content exactly.
	existing, err := b.worktreeFiles(".")
	if err != nil {
		return nil, err
	}
	for _, p := range existing {
		if !staged[p] {
			if _, err := wt.Remove(p); err != nil {
				return nil, fmt.Errorf("failed to remove %s: %w", p, err)
			}
		}
	}

	sig := &object.Signature{Name: committerName, Email: committerEmail, When: time.Now()}
	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return nil, fmt.Errorf("commit failed: %w", err)
	}

	commit, err := b.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load new commit: %w", err)
	}
	changed, err := changedPaths(commit)
	if err != nil {
		return nil, err
	}

	if err := b.setRef(snapshotRefName, hash); err != nil {
		return nil, err
	}

	return &BackupRecord{
		ID:        hash.String(),
		Timestamp: commit.Author.When,
		Message:   message,
		Changed:   changed,
	}, nil
}

// Push publishes local history to origin. Any refusal or transport failure
// surfaces as ErrPushRejected; the local records stay intact.
func (b *GitBackend) Push(ctx context.Context) error {
	if !b.hasRemote {
		return ErrNoRemote
	}

	err := b.repo.PushContext(ctx, &gogit.PushOptions{RemoteName: remoteName})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		if errors.Is(err, gogit.ErrNonFastForwardUpdate) {
			return fmt.Errorf("%w: remote has diverged", ErrPushRejected)
		}
		return fmt.Errorf("%w: %v", ErrPushRejected, err)
	}

	head, err := b.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD after push: %w", err)
	}
	return b.setRef(pushedRefName, head.Hash())
}

// Checkout returns the full content of the record with the given id. Modes
// come back from the tree entries, so executables survive a restore.
func (b *GitBackend) Checkout(ctx context.Context, id string) (map[string]FileContent, error) {
	commit, err := b.repo.CommitObject(plumbing.NewHash(id))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("failed to load record %s: %w", id, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load tree for %s: %w", id, err)
	}

	contents := map[string]FileContent{}
	err = tree.Files().ForEach(func(f *object.File) error {
		data, err := f.Contents()
		if err != nil {
			return fmt.Errorf("failed to read %s from record %s: %w", f.Name, id, err)
		}
		mode, err := f.Mode.ToOSFileMode()
		if err != nil {
			mode = 0644
		}
		contents[f.Name] = FileContent{Data: []byte(data), Mode: mode.Perm()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return contents, nil
}

// History returns all backup records, newest first.
func (b *GitBackend) History(ctx context.Context) ([]BackupRecord, error) {
	head, err := b.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	iter, err := b.repo.Log(&gogit.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer iter.Close()

	var records []BackupRecord
	err = iter.ForEach(func(c *object.Commit) error {
		changed, err := changedPaths(c)
		if err != nil {
			return err
		}
		records = append(records, BackupRecord{
			ID:        c.Hash.String(),
			Timestamp: c.Author.When,
			Message:   strings.TrimRight(c.Message, "\n"),
			Changed:   changed,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Ahead counts local records not yet on the remote.
func (b *GitBackend) Ahead(ctx context.Context) (int, error) {
	if !b.hasRemote {
		return 0, ErrNoRemote
	}

	head, err := b.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	var pushed plumbing.Hash
	if ref, err := b.repo.Reference(pushedRefName, true); err == nil {
		pushed = ref.Hash()
	}

	iter, err := b.repo.Log(&gogit.LogOptions{From: head.Hash()})
	if err != nil {
		return 0, fmt.Errorf("failed to read history: %w", err)
	}
	defer iter.Close()

	count := 0
	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash == pushed {
			return errStopIteration
		}
		count++
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return 0, err
	}
	return count, nil
}

// AdvanceSnapshot moves the snapshot reference to the record with the given
// id.
func (b *GitBackend) AdvanceSnapshot(ctx context.Context, id string) error {
	hash := plumbing.NewHash(id)
	if _, err := b.repo.CommitObject(hash); err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return fmt.Errorf("failed to load record %s: %w", id, err)
	}
	return b.setRef(snapshotRefName, hash)
}

var errStopIteration = errors.New("stop iteration")

func (b *GitBackend) setRef(name plumbing.ReferenceName, hash plumbing.Hash) error {
	if err := b.repo.Storer.SetReference(plumbing.NewHashReference(name, hash)); err != nil {
		return fmt.Errorf("failed to update %s: %w", name, err)
	}
	return nil
}

// worktreeFiles lists all files under dir, skipping the .git directory.
// Paths come back slash-separated and sorted.
func (b *GitBackend) worktreeFiles(dir string) ([]string, error) {
	entries, err := b.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list worktree %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		p := e.Name()
		if dir != "." {
			p = path.Join(dir, e.Name())
		}
		if e.IsDir() {
			if p == gogit.GitDirName {
				continue
			}
			sub, err := b.worktreeFiles(p)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
			continue
		}
		files = append(files, p)
	}
	sort.Strings(files)
	return files, nil
}

// changedPaths returns the repository paths a commit touched relative to its
// first parent (every path for a root commit), sorted.
func changedPaths(c *object.Commit) ([]string, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load commit tree: %w", err)
	}

	if c.NumParents() == 0 {
		var all []string
		err := tree.Files().ForEach(func(f *object.File) error {
			all = append(all, f.Name)
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(all)
		return all, nil
	}

	parent, err := c.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent commit: %w", err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load parent tree: %w", err)
	}

	diff, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	seen := map[string]bool{}
	var changed []string
	for _, ch := range diff {
		name := ch.To.Name
		if name == "" {
			name = ch.From.Name
		}
		if name != "" && !seen[name] {
			seen[name] = true
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed, nil
}
