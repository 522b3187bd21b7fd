//go:build !linux

package fs

import "os"

// fallocate falls back to a plain truncate on platforms without a native
// fallocate syscall; trunk files still reach their configured size, just
// without the preallocation-hint fast path.
func fallocate(f *os.File, size int64) error {
	if size <= 0 {
		return nil
	}
	return f.Truncate(size)
}
