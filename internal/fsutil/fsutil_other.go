//go:build !unix

package fsutil

import "math"

// FreeSpace reports effectively unlimited space on platforms without a
// statfs probe, which disables the min-free-space trim policy there.
func FreeSpace(string) (int64, error) {
	return math.MaxInt64, nil
}

// SameDevice conservatively reports false so temp trees are placed
// next to the cache directory, where hardlinks are known to work.
func SameDevice(string, string) (bool, error) {
	return false, nil
}
