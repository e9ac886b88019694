package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/memoryd/memoryd/internal/daemon"
)

// embeddingDim is the fixed vector width produced by the configured embedding model.
// It must match whatever model the Embedder is configured with; changing it requires a
// fresh vec0 table, which is why it is a build-time constant rather than a runtime
// config value; the embedder's own model-version guard handles a changed *model*, not
// width.
const embeddingDim = 768

// Store is the embedded SQL store: the single writer of every row in the engine.
// Every other component borrows rows through it for the duration of a call.
type Store struct {
	path string
	db   *sql.DB
	lock *daemon.FileLock
	log  *slog.Logger

	mu                sync.Mutex
	vectorIndexOK     bool
}

// Open opens (creating if necessary) the store at path, acquires the single-writer
// advisory lock, runs the startup integrity check, and applies all outstanding
// migrations. A second process attempting to Open the same path fails fast rather than
// risking concurrent writes.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	lock, err := daemon.AcquireFileLock(path + ".lock")
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}

	if err := runIntegrityCheck(path, log); err != nil {
		lock.Release()
		return nil, fmt.Errorf("integrity check: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; readers multiplex the same pooled connection

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		lock.Release()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		lock.Release()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{path: path, db: db, lock: lock, log: log}
	s.vectorIndexOK = s.probeVectorIndex(ctx)
	return s, nil
}

// Close flushes WAL to the main file, closes the database, and releases the writer lock.
func (s *Store) Close() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.Warn("wal checkpoint on close failed", "error", err)
	}
	err := s.db.Close()
	s.lock.Release()
	return err
}

// Path returns the path to the main database file.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying *sql.DB for packages that need to build ad-hoc queries
// (Recall's hybrid search, Consolidate's batch scans). Callers must never hold a write
// transaction open across an I/O suspension point.
func (s *Store) DB() *sql.DB { return s.db }

// VectorIndexAvailable reports whether the sqlite-vec vec0 table is usable on this
// build. Recall uses this to decide whether to skip the vector signal.
func (s *Store) VectorIndexAvailable() bool { return s.vectorIndexOK }

func (s *Store) probeVectorIndex(ctx context.Context) bool {
	_, err := s.db.ExecContext(ctx, "SELECT count(*) FROM memory_vectors")
	return err == nil
}

// Flush commits the WAL to the main database file (the /flush HTTP endpoint of §6).
func (s *Store) Flush(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Execute runs sql with params. If fetch is true, rows are collected into a slice of
// column-name-keyed maps; otherwise Execute returns the number of rows affected.
func (s *Store) Execute(ctx context.Context, query string, params []any, fetch bool) ([]map[string]any, int64, error) {
	if !fetch {
		res, err := s.db.ExecContext(ctx, query, params...)
		if err != nil {
			return nil, 0, err
		}
		n, _ := res.RowsAffected()
		return nil, n, nil
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out, err := scanRows(rows)
	return out, int64(len(out)), err
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Insert inserts values into table and returns the new row id.
func (s *Store) Insert(ctx context.Context, table string, values map[string]any) (int64, error) {
	cols := make([]string, 0, len(values))
	placeholders := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for k, v := range values {
		cols = append(cols, k)
		placeholders = append(placeholders, "?")
		args = append(args, v)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Update sets values on rows matching where/whereArgs.
func (s *Store) Update(ctx context.Context, table string, values map[string]any, where string, whereArgs []any) (int64, error) {
	sets := make([]string, 0, len(values))
	args := make([]any, 0, len(values)+len(whereArgs))
	for k, v := range values {
		sets = append(sets, k+" = ?")
		args = append(args, v)
	}
	args = append(args, whereArgs...)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), where)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes rows matching where/whereArgs. Callers almost never use this directly:
// entities and memories are tombstoned, never hard-deleted, by automated jobs.
func (s *Store) Delete(ctx context.Context, table, where string, whereArgs []any) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, where)
	res, err := s.db.ExecContext(ctx, query, whereArgs...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetOne returns a single row matching where/whereArgs, or (nil, sql.ErrNoRows).
func (s *Store) GetOne(ctx context.Context, table, where string, whereArgs []any) (map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT 1", table, where)
	rows, err := s.db.QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, sql.ErrNoRows
	}
	return out[0], nil
}

// WithTx runs fn inside a single transaction, opened with the driver's default (deferred)
// BEGIN. Writes inside one public operation are atomic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// MetaGet reads a key from _meta, returning "" if absent.
func (s *Store) MetaGet(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, "SELECT value FROM _meta WHERE key = ?", key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

// MetaSet upserts a key in _meta.
func (s *Store) MetaSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _meta(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// MarshalJSON is a small helper used by callers building metadata columns; the store
// itself treats metadata as an opaque string.
func MarshalJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// UnmarshalJSON parses a metadata column back into a map, tolerating empty/invalid input.
func UnmarshalJSON(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]any{}
	}
	return m
}

// FormatTime renders t in the RFC3339Nano UTC form stored in TEXT timestamp columns.
func FormatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// ParseTime parses a stored timestamp column back into time.Time. A blank string yields
// the zero time rather than an error, since many timestamp columns are nullable.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
