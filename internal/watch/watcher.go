package watch

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/confsync/confsync/internal/engine"
	"github.com/confsync/confsync/internal/registry"
)

// Notifier receives change events for tracked paths.
type Notifier interface {
	Notify()
}

// Watcher maps filesystem events on tracked paths to Notify calls. Tracked
// directories are watched recursively; for tracked files the parent
// directory is watched and events are filtered to the file itself, so
// editors that replace files via rename are still seen.
type Watcher struct {
	fsw      *fsnotify.Watcher
	notifier Notifier
	exclude  []string

	// dirs are recursively watched roots, files are exact tracked paths.
	dirs  []string
	files map[string]bool
}

// NewWatcher builds a watcher over the registry's tracked entries.
func NewWatcher(reg *registry.Registry, exclude []string, notifier Notifier) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	w := &Watcher{
		fsw:      fsw,
		notifier: notifier,
		exclude:  exclude,
		files:    map[string]bool{},
	}

	parents := map[string]bool{}
	for _, e := range reg.Entries() {
		switch e.Kind {
		case registry.KindDirectory:
			w.dirs = append(w.dirs, e.Path)
			if err := w.addRecursive(e.Path, e.Path); err != nil {
				fsw.Close()
				return nil, err
			}
		default:
			w.files[e.Path] = true
			parents[filepath.Dir(e.Path)] = true
		}
	}
	for dir := range parents {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	return w, nil
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run dispatches events until ctx is canceled or the event stream closes.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				return fmt.Errorf("filesystem watcher failed: %w", err)
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if !w.relevant(event.Name) {
		return
	}

	// New directories under a watched root need their own watch.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if root, ok := w.owningDir(event.Name); ok {
				_ = w.addRecursive(root, event.Name)
			}
		}
	}

	w.notifier.Notify()
}

// relevant reports whether an event path belongs to a tracked entry and is
// not excluded. Exclusions use the same match as the scan, against both the
// base name and the root-relative path, so excluded paths never wake the
// scheduler only to produce an empty backup.
func (w *Watcher) relevant(p string) bool {
	if w.files[p] {
		return true
	}
	root, ok := w.owningDir(p)
	if !ok {
		return false
	}
	return p == root || !excludedUnder(w.exclude, root, p)
}

// owningDir returns the watched directory root that contains p.
func (w *Watcher) owningDir(p string) (string, bool) {
	for _, dir := range w.dirs {
		if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
			return dir, true
		}
	}
	return "", false
}

// excludedUnder reports whether p, or any of its ancestors below root,
// matches an exclusion pattern. Matching ancestors mirrors the scan, which
// skips an excluded directory along with everything inside it.
func excludedUnder(exclude []string, root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i := range parts {
		prefix := path.Join(parts[:i+1]...)
		if engine.Excluded(exclude, prefix, parts[i]) {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(root, dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && excludedUnder(w.exclude, root, p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}
