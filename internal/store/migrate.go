package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration is a single forward-only, idempotent schema step.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList is the ordered list of all migrations applied during Initialize.
// Each is idempotent at the outcome level: it checks for existing tables/columns before
// altering, so re-running the full list against an already-migrated database is a no-op.
var migrationsList = []Migration{
	{"initial_schema", migrateInitialSchema},
	{"fts_indices", migrateFTSIndices},
	{"vector_index", migrateVectorIndex},
	{"embedding_model_version_guard", migrateEmbeddingModelGuard},
}

func migrateInitialSchema(db *sql.DB) error {
	_, err := db.Exec(baseSchema)
	return err
}

func migrateFTSIndices(db *sql.DB) error {
	_, err := db.Exec(ftsSchema)
	if err != nil {
		return err
	}
	// Backfill in case the base tables already held rows from a prior, FTS-less version
	// of the schema.
	if _, err := db.Exec(`INSERT INTO memories_fts(rowid, content)
		SELECT id, content FROM memories
		WHERE id NOT IN (SELECT rowid FROM memories_fts)`); err != nil {
		return fmt.Errorf("backfill memories_fts: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO entities_fts(rowid, name)
		SELECT id, name FROM entities
		WHERE id NOT IN (SELECT rowid FROM entities_fts)`); err != nil {
		return fmt.Errorf("backfill entities_fts: %w", err)
	}
	return nil
}

func migrateVectorIndex(db *sql.DB) error {
	stmt := fmt.Sprintf(vectorSchemaFmt, embeddingDim)
	if _, err := db.Exec(stmt); err != nil {
		// sqlite-vec may be unavailable on this build (no CGO / extension not loaded);
		// the vector signal in Recall degrades gracefully when absent, so a missing
		// vec0 table is not fatal to migration.
		return nil //nolint:nilerr
	}
	return nil
}

func migrateEmbeddingModelGuard(db *sql.DB) error {
	_, err := db.Exec(`INSERT OR IGNORE INTO _meta(key, value) VALUES ('embedding_model', '')`)
	return err
}

// MigrationInfo is metadata about a registered migration, for introspection.
type MigrationInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var migrationDescriptions = map[string]string{
	"initial_schema":                "Creates entities, memories, relationships, episodes, turn_buffer, reflections, predictions, agent_dispatches, audit_log, metrics, and _meta tables",
	"fts_indices":                   "Creates memories_fts and entities_fts virtual tables with sync triggers, backfills existing rows",
	"vector_index":                  "Creates the memory_vectors vec0 virtual table for the embedding index adapter",
	"embedding_model_version_guard": "Seeds the _meta.embedding_model key used by the Embedder's model-version guard",
}

// ListMigrations returns every registered migration with a human-readable description.
// All migrations are idempotent, so this lists the full set rather than only pending ones.
func ListMigrations() []MigrationInfo {
	out := make([]MigrationInfo, len(migrationsList))
	for i, m := range migrationsList {
		desc := migrationDescriptions[m.Name]
		if desc == "" {
			desc = "no description"
		}
		out[i] = MigrationInfo{Name: m.Name, Description: desc}
	}
	return out
}

// runMigrations applies every migration in order inside a single EXCLUSIVE transaction,
// recording each in schema_migrations. Foreign keys are disabled for the duration since
// PRAGMA foreign_keys cannot be toggled inside a transaction and some migrations would
// otherwise trip ON DELETE CASCADE while tables are still being created.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys for migrations: %w", err)
	}
	defer func() { _, _ = db.Exec("PRAGMA foreign_keys = ON") }()

	if _, err := db.Exec("BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("acquire exclusive lock for migrations: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = db.Exec("ROLLBACK")
		}
	}()

	// schema_migrations itself must exist before we can record anything into it; create
	// it ahead of the ordered list so every migration, including the first, is recordable.
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL,
		applied_at  TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := db.Query("SELECT name FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		applied[name] = true
	}
	rows.Close()

	version := len(applied)
	for _, m := range migrationsList {
		if applied[m.Name] {
			continue
		}
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		version++
		desc := migrationDescriptions[m.Name]
		if _, err := db.Exec(
			`INSERT INTO schema_migrations(version, name, description, applied_at) VALUES (?, ?, ?, ?)`,
			version, m.Name, desc, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
	}

	if _, err := db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	committed = true
	return nil
}
