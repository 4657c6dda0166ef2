//go:build unix

package fsutil

import "golang.org/x/sys/unix"

// FreeSpace returns the number of bytes available to unprivileged
// writers on the filesystem holding path.
func FreeSpace(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil //nolint:gosec // block counts fit in int64
}

// SameDevice reports whether both paths live on the same filesystem,
// which is what decides whether hardlinks between them can work.
func SameDevice(path1, path2 string) (bool, error) {
	var st1, st2 unix.Stat_t
	if err := unix.Stat(path1, &st1); err != nil {
		return false, err
	}
	if err := unix.Stat(path2, &st2); err != nil {
		return false, err
	}
	return st1.Dev == st2.Dev, nil
}
