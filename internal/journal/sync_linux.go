//go:build linux

package journal

import (
	"os"

	"golang.org/x/sys/unix"
)

// fsync flushes |f|'s data (and the minimum metadata needed to retrieve it)
// to stable storage via fdatasync(2), the cheaper sibling of fsync(2) — we
// don't need mtime/atime durability, only the bytes themselves.
func fsync(f *os.File) error {
	for {
		var err = unix.Fdatasync(int(f.Fd()))
		if err != unix.EINTR {
			return err
		}
	}
}
