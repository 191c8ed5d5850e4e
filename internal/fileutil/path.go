// Package fileutil collects small workspace-path and filesystem helpers
// shared across the engine: normalizing a declared dep/out path into a
// canonical workspace-relative form, and computing directory sizes for
// status/gc reporting.
package fileutil

import (
	"os"
	"path/filepath"
	"strings"
)

// NormalizeRelPath cleans a workspace-relative path the way a stage
// declares it: forward slashes, no leading "./", no trailing slash, and
// "" for the workspace root itself.
func NormalizeRelPath(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimSuffix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// IsValidRelPath rejects paths that could escape the workspace root or
// that embed characters no content-addressed layout should have to deal
// with: ".." components, a leading "/", NUL bytes.
func IsValidRelPath(p string) bool {
	if p == "" {
		return false
	}
	if strings.ContainsRune(p, 0) {
		return false
	}
	if strings.HasPrefix(p, "/") {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

// DirSize sums the apparent size of every regular file under root,
// skipping symlinks, for status/gc reporting where a full content hash
// would be wasted work.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Exists reports whether path exists, collapsing the stat error into a
// bool for call sites that don't care why it's absent.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir creates dir (and parents) if it does not already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
