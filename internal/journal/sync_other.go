//go:build !linux

package journal

import "os"

// fsync flushes |f| to stable storage. Non-Linux platforms don't expose
// fdatasync, so we fall back to the portable (and slightly more expensive)
// File.Sync.
func fsync(f *os.File) error {
	return f.Sync()
}
