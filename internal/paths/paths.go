// Package paths resolves well-known workspace paths and canonical
// repo-relative path forms.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// ConfigRelPath is the config file location relative to the workspace root.
const ConfigRelPath = ".config/tracey/config.styx"

// StateDirName is the per-workspace daemon state directory.
const StateDirName = ".tracey"

// ConfigPath returns the absolute config file path for a workspace root.
func ConfigPath(root string) string {
	return filepath.Join(root, filepath.FromSlash(ConfigRelPath))
}

// StateDir returns the absolute daemon state directory for a workspace root.
func StateDir(root string) string {
	return filepath.Join(root, StateDirName)
}

// SocketPath returns the daemon socket path for a workspace root.
func SocketPath(root string) string {
	return filepath.Join(StateDir(root), "daemon.sock")
}

// PIDPath returns the daemon pid-file path for a workspace root.
func PIDPath(root string) string {
	return filepath.Join(StateDir(root), "daemon.pid")
}

// LogPath returns the daemon log path for a workspace root.
func LogPath(root string) string {
	return filepath.Join(StateDir(root), "daemon.log")
}

// CachePath returns the parse-artifact cache path for a workspace root.
func CachePath(root string) string {
	return filepath.Join(StateDir(root), "artifacts.db")
}

// EnsureStateDir creates the daemon state directory if it is missing.
func EnsureStateDir(root string) (string, error) {
	dir := StateDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// FindWorkspaceRoot walks upward from start looking for a directory that
// contains the tracey config file or a .git directory. Falls back to
// start when neither is found.
func FindWorkspaceRoot(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		if _, err := os.Stat(ConfigPath(dir)); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

// Canonicalize converts an absolute path to a root-relative canonical
// path with forward slashes. Paths outside the root are returned
// unchanged (absolute, slash-normalized).
func Canonicalize(absolutePath string, root string) string {
	rel, err := filepath.Rel(root, absolutePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(absolutePath)
	}
	return filepath.ToSlash(rel)
}

// IsWithin reports whether path is inside root after normalization.
func IsWithin(path string, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Join joins a workspace root with a canonical (slash-separated) path.
func Join(root string, canonical string) string {
	parts := strings.Split(canonical, "/")
	return filepath.Join(append([]string{root}, parts...)...)
}
