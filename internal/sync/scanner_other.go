//go:build !linux && !darwin

package sync

import "os"

// inodeOf has no portable equivalent outside unix; platforms without one
// simply never populate the journal's inode field, which is advisory only
// (mtime+size+checksum already drive change detection, spec §4.5).
func inodeOf(_ os.FileInfo) uint64 {
	return 0
}
