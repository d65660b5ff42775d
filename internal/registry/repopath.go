package registry

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Repository path prefixes. Paths under the home directory are stored
// relative to it so a backup made on one machine restores correctly on
// another with a different home; everything else keeps its absolute path.
const (
	homePrefix = "home"
	rootPrefix = "root"
)

// RepoPath maps an absolute filesystem path to its repository-relative path.
// The mapping is pure, injective, and invertible via AbsPath: paths under
// home become "home/<rel>", all others "root<abs>". A non-home absolute path
// can never start with the home prefix, so the two namespaces cannot collide.
func RepoPath(home, abs string) string {
	abs = filepath.Clean(abs)
	home = filepath.Clean(home)
	if abs == home {
		return homePrefix
	}
	if strings.HasPrefix(abs, home+string(filepath.Separator)) {
		return path.Join(homePrefix, filepath.ToSlash(abs[len(home)+1:]))
	}
	return rootPrefix + filepath.ToSlash(abs)
}

// AbsPath inverts RepoPath for the given home directory.
func AbsPath(home, repoPath string) (string, error) {
	switch {
	case repoPath == homePrefix:
		return filepath.Clean(home), nil
	case strings.HasPrefix(repoPath, homePrefix+"/"):
		return filepath.Join(home, filepath.FromSlash(repoPath[len(homePrefix)+1:])), nil
	case strings.HasPrefix(repoPath, rootPrefix+"/"):
		return filepath.FromSlash(repoPath[len(rootPrefix):]), nil
	default:
		return "", fmt.Errorf("malformed repository path %q", repoPath)
	}
}
