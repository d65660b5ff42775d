package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// AppName is the directory name used under the XDG base directories.
const AppName = "confsync"

// FilePath returns the location of config.toml.
func FilePath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.toml")
}

// DataDir returns the root directory holding profile repositories.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// RepoDir returns the repository directory for the named profile.
func RepoDir(profileName string) string {
	return filepath.Join(DataDir(), profileName)
}
