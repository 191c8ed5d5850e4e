//go:build !linux

package linker

// reflink is unsupported outside Linux's FICLONE ioctl; the linker falls
// through to hardlink/symlink/copy on every other platform.
func reflink(_, _ string) error {
	return ErrReflinkUnsupported
}
