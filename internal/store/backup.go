package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Backup produces a consistent snapshot of the store named
// `<db>.backup-YYYY-MM-DD[-HHMMSS].db` alongside the main file, then prunes the oldest
// backups so at most retentionCount remain. It uses SQLite's own VACUUM INTO,
// which takes a read-consistent snapshot without blocking the single writer, rather than
// a raw file copy that could observe a torn WAL checkpoint.
func (s *Store) Backup(ctx context.Context, retentionCount int) (string, error) {
	dest := backupPath(s.path, time.Now())

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return "", fmt.Errorf("backup database: %w", err)
	}

	if retentionCount > 0 {
		if err := pruneBackups(s.path, retentionCount); err != nil {
			s.log.Warn("backup retention pruning failed", "error", err)
		}
	}

	return dest, nil
}

func backupPath(dbPath string, at time.Time) string {
	base := dbPath + ".backup-" + at.UTC().Format("2006-01-02")
	candidate := base + ".db"
	if _, err := os.Stat(candidate); err == nil {
		// Same-day collision: disambiguate with a time-of-day suffix.
		candidate = base + "-" + at.UTC().Format("150405") + ".db"
	}
	return candidate
}

func pruneBackups(dbPath string, retentionCount int) error {
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	prefix := base + ".backup-"
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	// A name without a -HHMMSS suffix sorts as if stamped 00:00:00 of its day, ahead of
	// that day's suffixed names.
	key := func(name string) string {
		ts := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".db")
		if len(ts) == len("2006-01-02") {
			ts += "-000000"
		}
		return ts
	}
	sort.Slice(names, func(i, j int) bool { return key(names[i]) < key(names[j]) })

	if len(names) <= retentionCount {
		return nil
	}
	toRemove := names[:len(names)-retentionCount]
	for _, n := range toRemove {
		if err := os.Remove(filepath.Join(dir, n)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
