//go:build linux

package linker

import (
	"os"

	"golang.org/x/sys/unix"
)

// reflink attempts a copy-on-write clone via the Linux-specific
// FICLONE ioctl. Filesystems that don't support it (anything but
// btrfs/xfs/overlayfs-with-reflink) return ENOTTY/EOPNOTSUPP, and the
// caller falls through to the next link kind.
func reflink(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := unix.IoctlFileClone(int(out.Fd()), int(in.Fd())); err != nil {
		os.Remove(dst)
		return ErrReflinkUnsupported
	}
	return nil
}
