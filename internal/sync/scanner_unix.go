//go:build linux || darwin

package sync

import (
	"os"
	"syscall"
)

// inodeOf extracts the inode number spec §3's JournalRecord.inode field
// wants, used by the reconciler's local move detection to pair a vanished
// path with a newly appeared one.
func inodeOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Ino)
	}

	return 0
}
