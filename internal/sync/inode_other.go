//go:build !linux && !darwin

package sync

import "io/fs"

// inodeFromFileInfo has no portable implementation outside Linux/macOS;
// rename detection falls back to the content-checksum path (§4.5 phase C
// step 3) on these platforms.
func inodeFromFileInfo(_ fs.FileInfo) (uint64, bool) {
	return 0, false
}
