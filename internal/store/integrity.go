package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// runIntegrityCheck is the startup integrity path: it is the only code
// allowed to replace the main store file. A missing file is not an error (a fresh
// database will be created by the caller); a file that fails PRAGMA quick_check is
// atomically replaced by the newest backup (see newestBackup), if one exists.
func runIntegrityCheck(path string, log *slog.Logger) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if checkOK(path) {
		return nil
	}

	log.Error("store integrity check failed, attempting restore from backup", "path", path)

	backup, ok := newestBackup(path)
	if !ok {
		log.Error("no backup available; continuing with a fresh database", "path", path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove corrupt database: %w", err)
		}
		return nil
	}

	if err := atomicReplace(backup, path); err != nil {
		return fmt.Errorf("restore from backup %s: %w", backup, err)
	}
	log.Warn("restored database from backup", "backup", backup)
	return nil
}

func checkOK(path string) bool {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return false
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA quick_check(1)").Scan(&result); err != nil {
		return false
	}
	return result == "ok"
}

// newestBackup finds the newest `<db>.backup-*.db` file alongside path, ordering by the
// sortable YYYY-MM-DD[-HHMMSS] timestamp each backup filename embeds.
func newestBackup(path string) (string, bool) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	prefix := base + ".backup-"
	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".db") {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return "", false
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
	sort.Slice(candidates, func(i, j int) bool { return key(candidates[i]) < key(candidates[j]) })
	return filepath.Join(dir, candidates[len(candidates)-1]), true
}

// atomicReplace copies src to a temp file beside dst, then renames over dst so a reader
// never observes a partially-written database file.
func atomicReplace(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + ".restoring"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
