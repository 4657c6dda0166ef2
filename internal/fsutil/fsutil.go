// Package fsutil holds the filesystem plumbing shared by the cache and
// the tree materializer: hardlink-or-copy placement, write-bit
// toggling, free-space and same-device probes, and temp-dir placement.
package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LinkOrCopy hardlinks src to dest, falling back to a byte copy when
// linking fails (typically a cross-device link).
func LinkOrCopy(src, dest string) error {
	if err := os.Link(src, dest); err == nil {
		return nil
	}
	return CopyFile(src, dest)
}

// CopyFile copies src to dest preserving src's permission bits. dest
// must not already exist.
func CopyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return err
	}
	return out.Close()
}

// SetWritable sets or strips the write bit on a single path. Symlinks
// are left alone; their targets are chmodded through their own entry.
func SetWritable(path string, writable bool) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil
	}
	mode := info.Mode().Perm()
	if writable {
		mode |= 0o200
	} else {
		mode &= 0o500
	}
	return os.Chmod(path, mode)
}

// MakeTreeWritable toggles the write bit on every file and directory
// under root. The root itself is left writable so its entries can
// always be unlinked at cleanup; the write bit never affects
// traversal, so toggling during the walk is safe.
func MakeTreeWritable(root string, writable bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		return SetWritable(path, writable)
	})
}

// TempDirNear creates a temp directory on the same filesystem as near,
// so that hardlinks into it remain possible. The system temp dir is
// preferred when it qualifies.
func TempDirNear(prefix, near string) (string, error) {
	dir := ""
	same, err := SameDevice(os.TempDir(), near)
	if err != nil || !same {
		dir = filepath.Dir(near)
	}
	return os.MkdirTemp(dir, prefix)
}
