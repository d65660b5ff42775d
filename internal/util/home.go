package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeDir returns the current user's home directory.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Clean(home), nil
}

// ExpandHome expands a leading ~ or ~/ in path to the given home directory
// and returns a cleaned absolute path. Relative paths are resolved against
// the current working directory.
func ExpandHome(home, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if path == "~" {
		return filepath.Clean(home), nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:]), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// ContractHome replaces a leading home-directory prefix with ~ for display.
func ContractHome(home, path string) string {
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+string(filepath.Separator)) {
		return "~" + path[len(home):]
	}
	return path
}
