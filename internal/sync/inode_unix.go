//go:build linux || darwin

package sync

import (
	"io/fs"
	"syscall"
)

// inodeFromFileInfo extracts the OS file identity from a *syscall.Stat_t,
// available on both of this module's supported platforms.
func inodeFromFileInfo(info fs.FileInfo) (uint64, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}

	return uint64(stat.Ino), true //nolint:unconvert // Ino is int64 on darwin, uint64 on linux
}
