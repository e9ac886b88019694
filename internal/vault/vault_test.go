package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/memoryd/memoryd/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertEntity(t *testing.T, st *store.Store, name string) int64 {
	t.Helper()
	now := store.FormatTime(time.Now())
	id, err := st.Insert(context.Background(), "entities", map[string]any{
		"name":           name,
		"canonical_name": name,
		"type":           "person",
		"importance":     0.6,
		"metadata":       `{"role":"friend"}`,
		"created_at":     now,
		"updated_at":     now,
	})
	if err != nil {
		t.Fatalf("insert entity: %v", err)
	}
	return id
}

func TestSyncWritesOneNotePerLiveEntity(t *testing.T) {
	st := openTestStore(t)
	insertEntity(t, st, "ada-lovelace")
	insertEntity(t, st, "grace-hopper")

	dir := t.TempDir()
	a, err := NewMarkdownAdapter(st, dir, nil)
	if err != nil {
		t.Fatalf("NewMarkdownAdapter: %v", err)
	}

	written, err := a.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if written != 2 {
		t.Fatalf("expected 2 notes written, got %d", written)
	}

	for _, name := range []string{"ada-lovelace", "grace-hopper"} {
		if _, err := os.Stat(filepath.Join(dir, filenameFor(name))); err != nil {
			t.Fatalf("expected note for %q: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "_meta", lastSyncFileName)); err != nil {
		t.Fatalf("expected last-sync mirror: %v", err)
	}
}

func TestSyncIsIdempotentWhenNoteUntouched(t *testing.T) {
	st := openTestStore(t)
	insertEntity(t, st, "ada-lovelace")

	dir := t.TempDir()
	a, err := NewMarkdownAdapter(st, dir, nil)
	if err != nil {
		t.Fatalf("NewMarkdownAdapter: %v", err)
	}

	if _, err := a.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	written, err := a.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected the unchanged note to still be (re)written, got %d", written)
	}
}

func TestSyncSkipsNoteHandEditedSinceLastSync(t *testing.T) {
	st := openTestStore(t)
	insertEntity(t, st, "ada-lovelace")

	dir := t.TempDir()
	a, err := NewMarkdownAdapter(st, dir, nil)
	if err != nil {
		t.Fatalf("NewMarkdownAdapter: %v", err)
	}

	if _, err := a.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	notePath := filepath.Join(dir, filenameFor("ada-lovelace"))
	edited := "## Ada Lovelace\n\nhand-written note\n"
	if err := os.WriteFile(notePath, []byte(edited), 0o644); err != nil {
		t.Fatalf("simulate hand edit: %v", err)
	}

	written, err := a.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if written != 0 {
		t.Fatalf("expected the hand-edited note to be skipped, got %d written", written)
	}

	after, err := os.ReadFile(notePath)
	if err != nil {
		t.Fatalf("read note: %v", err)
	}
	if string(after) != edited {
		t.Fatalf("expected hand-edited content to survive Sync, got %q", string(after))
	}
}

func TestDetectUserEditsReportsChangedNote(t *testing.T) {
	st := openTestStore(t)
	insertEntity(t, st, "ada-lovelace")

	dir := t.TempDir()
	a, err := NewMarkdownAdapter(st, dir, nil)
	if err != nil {
		t.Fatalf("NewMarkdownAdapter: %v", err)
	}
	if _, err := a.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	changed, err := a.DetectUserEdits(context.Background())
	if err != nil {
		t.Fatalf("DetectUserEdits: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("expected no changes right after Sync, got %v", changed)
	}

	notePath := filepath.Join(dir, filenameFor("ada-lovelace"))
	if err := os.WriteFile(notePath, []byte("hand edit\n"), 0o644); err != nil {
		t.Fatalf("simulate hand edit: %v", err)
	}

	changed, err = a.DetectUserEdits(context.Background())
	if err != nil {
		t.Fatalf("DetectUserEdits after edit: %v", err)
	}
	if len(changed) != 1 || changed[0] != "ada-lovelace" {
		t.Fatalf("expected [ada-lovelace] changed, got %v", changed)
	}
}

func TestFilenameForSanitizesUnsafeCharacters(t *testing.T) {
	got := filenameFor("Ada/Lovelace: Mathematician?")
	if got != "Ada-Lovelace-Mathematician.md" {
		t.Fatalf("expected each run of unsafe characters replaced by '-', got %q", got)
	}
}
