//go:build !windows

package health

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// diskSpaceAvailableMB reports the space available to an unprivileged user on the
// filesystem holding dbPath.
func diskSpaceAvailableMB(dbPath string) (int64, bool) {
	if dbPath == "" {
		return 0, false
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(dbPath), &stat); err != nil {
		return 0, false
	}
	availableBytes := stat.Bavail * uint64(stat.Bsize)
	return int64(availableBytes / (1024 * 1024)), true
}
