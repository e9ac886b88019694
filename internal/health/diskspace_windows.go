//go:build windows

package health

// diskSpaceAvailableMB has no portable equivalent of unix.Statfs wired for Windows;
// the check is skipped there rather than guessed at.
func diskSpaceAvailableMB(dbPath string) (int64, bool) {
	return 0, false
}
