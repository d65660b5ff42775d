// Package registry maintains the set of tracked paths and their aliases for
// one profile. Entries keep insertion order, which is the order the user
// added them in.
package registry

import (
	"fmt"
	"path/filepath"

	"github.com/confsync/confsync/internal/config"
	"github.com/confsync/confsync/internal/util"
)

// Kind distinguishes tracked files from tracked directories.
type Kind string

const (
	// KindFile marks a single tracked file.
	KindFile Kind = "file"
	// KindDirectory marks a recursively tracked directory.
	KindDirectory Kind = "directory"
)

// Entry is one tracked path.
type Entry struct {
	// Path is the absolute filesystem path.
	Path string
	// Alias is the optional short name. Unique when present.
	Alias string
	// Kind records whether Path was a file or a directory when registered.
	Kind Kind
	// Encrypted marks the entry for encrypted storage. The flag is carried
	// through config and display; encryption itself is handled outside the
	// sync core.
	Encrypted bool
	// RepoPath is the repository-relative path derived from Path.
	RepoPath string
}

// Registry holds the tracked entries of a single profile.
type Registry struct {
	env     *util.Env
	home    string
	entries []Entry
}

// New creates an empty registry.
func New(env *util.Env, home string) *Registry {
	return &Registry{env: env, home: home}
}

// FromConfig builds a registry from persisted config entries. Paths are
// expanded against home; entries whose paths have since disappeared are kept
// (they may be deleted-on-disk and still restorable).
func FromConfig(env *util.Env, home string, entries []config.Entry) (*Registry, error) {
	r := New(env, home)
	for _, e := range entries {
		abs, err := util.ExpandHome(home, e.Path)
		if err != nil {
			return nil, fmt.Errorf("invalid tracked path %q: %w", e.Path, err)
		}
		kind := Kind(e.Kind)
		if kind != KindFile && kind != KindDirectory {
			kind = KindFile
		}
		r.entries = append(r.entries, Entry{
			Path:      abs,
			Alias:     e.Alias,
			Kind:      kind,
			Encrypted: e.Encrypted,
			RepoPath:  RepoPath(home, abs),
		})
	}
	return r, nil
}

// ToConfig converts the registry back to persistable config entries,
// contracting the home prefix for readability.
func (r *Registry) ToConfig() []config.Entry {
	out := make([]config.Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, config.Entry{
			Path:      util.ContractHome(r.home, e.Path),
			Alias:     e.Alias,
			Kind:      string(e.Kind),
			Encrypted: e.Encrypted,
		})
	}
	return out
}

// Home returns the home directory the registry resolves paths against.
func (r *Registry) Home() string {
	return r.home
}

// Register adds a tracked entry for path. The path must exist on disk.
// With force, an already-tracked path has its alias and encrypted flag
// overridden in place; without force that is ErrDuplicatePath.
func (r *Registry) Register(path, alias string, encrypted, force bool) (Entry, error) {
	abs, err := util.ExpandHome(r.home, path)
	if err != nil {
		return Entry{}, err
	}

	info, err := r.env.Fs.Stat(abs)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrPathNotFound, abs)
	}
	kind := KindFile
	if info.IsDir() {
		kind = KindDirectory
	}

	if alias != "" {
		if other := r.byAlias(alias); other != nil && other.Path != abs {
			return Entry{}, fmt.Errorf("%w: %q refers to %s", ErrAliasCollision, alias, other.Path)
		}
	}

	if existing := r.byPath(abs); existing != nil {
		if !force {
			return Entry{}, fmt.Errorf("%w: %s", ErrDuplicatePath, abs)
		}
		if alias != "" {
			existing.Alias = alias
		}
		existing.Encrypted = encrypted
		existing.Kind = kind
		return *existing, nil
	}

	entry := Entry{
		Path:      abs,
		Alias:     alias,
		Kind:      kind,
		Encrypted: encrypted,
		RepoPath:  RepoPath(r.home, abs),
	}
	r.entries = append(r.entries, entry)
	return entry, nil
}

// Unregister removes the entry matching token (alias or path).
func (r *Registry) Unregister(token string) (Entry, error) {
	entry, err := r.Resolve(token)
	if err != nil {
		return Entry{}, err
	}
	for i := range r.entries {
		if r.entries[i].Path == entry.Path {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	return entry, nil
}

// Entries returns all tracked entries in insertion order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of tracked entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Resolve maps a user-supplied token to a tracked entry. An exact alias
// match wins over a path match, so an alias that happens to look like a
// relative path stays unambiguous.
func (r *Registry) Resolve(token string) (Entry, error) {
	if e := r.byAlias(token); e != nil {
		return *e, nil
	}
	abs, err := util.ExpandHome(r.home, token)
	if err == nil {
		if e := r.byPath(filepath.Clean(abs)); e != nil {
			return *e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, token)
}

func (r *Registry) byAlias(alias string) *Entry {
	if alias == "" {
		return nil
	}
	for i := range r.entries {
		if r.entries[i].Alias == alias {
			return &r.entries[i]
		}
	}
	return nil
}

func (r *Registry) byPath(abs string) *Entry {
	for i := range r.entries {
		if r.entries[i].Path == abs {
			return &r.entries[i]
		}
	}
	return nil
}
