package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/spf13/afero"
	"golang.org/x/term"

	"github.com/confsync/confsync/internal/config"
	"github.com/confsync/confsync/internal/engine"
	"github.com/confsync/confsync/internal/profile"
	"github.com/confsync/confsync/internal/repo"
	"github.com/confsync/confsync/internal/util"
)

// profileFlag selects a profile other than the active one.
var profileFlag string

// loadManager loads the configuration and returns a profile manager backed
// by env.
func loadManager(env *util.Env) (*profile.Manager, error) {
	home, err := util.HomeDir()
	if err != nil {
		return nil, err
	}
	m, err := profile.NewManager(env, config.FilePath(), home, openBackend(env))
	if err != nil {
		if errors.Is(err, config.ErrNotInitialized) {
			return nil, fmt.Errorf("%w: run 'confsync init' first", config.ErrNotInitialized)
		}
		return nil, err
	}
	return m, nil
}

// selectedProfile returns the profile name the command operates on: the
// --profile flag when set, otherwise the active profile.
func selectedProfile(m *profile.Manager) string {
	if profileFlag != "" {
		return profileFlag
	}
	return m.ActiveName()
}

// openBackend returns an opener that finds a profile's repository under the
// data directory, initializing it on first use.
func openBackend(env *util.Env) profile.BackendOpener {
	return func(p config.Profile) (repo.Backend, error) {
		dir := config.RepoDir(p.Name)
		exists, err := afero.DirExists(env.Fs, filepath.Join(dir, gogit.GitDirName))
		if err != nil {
			return nil, fmt.Errorf("failed to inspect repository directory: %w", err)
		}
		if exists {
			return repo.OpenGit(osfs.New(dir))
		}
		if err := env.Fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create repository directory: %w", err)
		}
		return repo.InitGit(osfs.New(dir), p.Remote)
	}
}

// promptConfirm asks the user a yes/no question. Non-interactive sessions
// cannot answer and get false.
func promptConfirm(title string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, nil
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Value(&ok).
		Run()
	if err != nil {
		return false, fmt.Errorf("confirmation cancelled: %w", err)
	}
	return ok, nil
}

// printChanges writes one line per changed file.
func printChanges(w io.Writer, cs *engine.ChangeSet) {
	for _, c := range cs.Added {
		fmt.Fprintf(w, "  added     %s\n", c.AbsPath)
	}
	for _, c := range cs.Modified {
		fmt.Fprintf(w, "  modified  %s\n", c.AbsPath)
	}
	for _, c := range cs.Deleted {
		fmt.Fprintf(w, "  deleted   %s\n", c.AbsPath)
	}
}

// progressStep writes a progress message with → prefix (step in progress).
var progressStep = util.ProgressStep

// progressDone writes a progress message with ✓ prefix (step completed).
var progressDone = util.ProgressDone
