//go:build windows

package stateindex

import "os"

// Windows has no stable inode exposed through os.FileInfo without extra
// syscalls; falling back to 0 means the fingerprint degrades to
// (path, size, mtime), which is still sound — just slightly less
// precise than on POSIX filesystems.
func inodeOf(_ os.FileInfo) uint64 {
	return 0
}
