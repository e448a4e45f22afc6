package storage

import (
	"path/filepath"
	"strings"
)

// NormalizePath puts a working-directory path into the canonical form used
// for project scoping: absolute, symlink-resolved where possible, cleaned.
// Empty input stays empty.
func NormalizePath(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return filepath.Clean(path)
}

// PathContains reports whether child is root itself or lives beneath it.
func PathContains(root, child string) bool {
	if root == "" || child == "" {
		return false
	}
	if root == child {
		return true
	}
	return strings.HasPrefix(child, root+string(filepath.Separator))
}
