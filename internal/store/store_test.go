package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrationsExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s, err := Open(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != len(migrationsList) {
		t.Fatalf("expected %d migrations recorded, got %d", len(migrationsList), count)
	}
	s.Close()

	// Re-opening must not re-apply (each applied version appears exactly once).
	s2, err := Open(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	var count2 int
	if err := s2.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count2); err != nil {
		t.Fatalf("count migrations after reopen: %v", err)
	}
	if count2 != count {
		t.Fatalf("expected migration count unchanged after reopen, got %d vs %d", count2, count)
	}
}

func TestInsertGetOneUpdateDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, "entities", map[string]any{
		"name":           "Sarah Chen",
		"canonical_name": "sarah chen",
		"type":           "person",
		"importance":     0.8,
		"created_at":     FormatTime(ParseTime("")),
		"updated_at":     FormatTime(ParseTime("")),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected non-zero id")
	}

	row, err := s.GetOne(ctx, "entities", "id = ?", []any{id})
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if row["canonical_name"] != "sarah chen" {
		t.Fatalf("unexpected row: %+v", row)
	}

	if _, err := s.Update(ctx, "entities", map[string]any{"importance": 0.9}, "id = ?", []any{id}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	row, err = s.GetOne(ctx, "entities", "id = ?", []any{id})
	if err != nil {
		t.Fatalf("GetOne after update: %v", err)
	}
	if row["importance"].(float64) != 0.9 {
		t.Fatalf("expected importance 0.9, got %v", row["importance"])
	}

	if _, err := s.Delete(ctx, "entities", "id = ?", []any{id}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetOne(ctx, "entities", "id = ?", []any{id}); err == nil {
		t.Fatalf("expected row to be gone after delete")
	}
}

func TestCanonicalNameUniqueAmongLiveEntities(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	values := map[string]any{
		"name":           "Acme Corp",
		"canonical_name": "acme corp",
		"type":           "organization",
		"created_at":     "2026-01-01T00:00:00Z",
		"updated_at":     "2026-01-01T00:00:00Z",
	}
	if _, err := s.Insert(ctx, "entities", values); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.Insert(ctx, "entities", values); err == nil {
		t.Fatalf("expected duplicate canonical_name insert to fail")
	}
}

func TestBackupCreatesFileAndPrunesRetention(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var paths []string
	for i := 0; i < 3; i++ {
		p, err := s.Backup(ctx, 2)
		if err != nil {
			t.Fatalf("Backup: %v", err)
		}
		paths = append(paths, p)
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("backup file missing: %v", err)
		}
	}

	dir := filepath.Dir(s.Path())
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var backups int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".db" && e.Name() != filepath.Base(s.Path()) {
			backups++
		}
	}
	if backups > 2 {
		t.Fatalf("expected at most 2 retained backups, found %d", backups)
	}
}

func TestListMigrationsReturnsAllRegistered(t *testing.T) {
	infos := ListMigrations()
	if len(infos) != len(migrationsList) {
		t.Fatalf("expected %d migration infos, got %d", len(migrationsList), len(infos))
	}
	for _, info := range infos {
		if info.Description == "" {
			t.Fatalf("migration %s missing description", info.Name)
		}
	}
}
