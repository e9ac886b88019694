// Package store is the embedded SQL store: schema, migrations, backup, integrity, and
// the vector index adapter. It is the single-writer owner of every row in the engine;
// every other package borrows rows for the duration of a call.
package store

// baseSchema creates every base table and index needed by a fresh database (the FTS
// tables and their triggers are in ftsSchema, the vector table in vectorSchemaFmt). It is
// applied by the "initial_schema" migration and is itself idempotent (CREATE TABLE IF NOT
// EXISTS / CREATE INDEX IF NOT EXISTS throughout) so re-running it against a partially
// initialized file is safe.
const baseSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version     INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL,
	applied_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS _meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	name                   TEXT NOT NULL,
	canonical_name         TEXT NOT NULL,
	type                   TEXT NOT NULL DEFAULT 'other',
	importance             REAL NOT NULL DEFAULT 0.5,
	metadata               TEXT NOT NULL DEFAULT '{}',
	last_contact_at        TEXT,
	contact_frequency_days REAL,
	contact_trend          TEXT NOT NULL DEFAULT 'stable',
	attention_tier         TEXT NOT NULL DEFAULT 'active',
	deleted_at             TEXT,
	deleted_reason         TEXT NOT NULL DEFAULT '',
	created_at             TEXT NOT NULL,
	updated_at             TEXT NOT NULL
);

-- canonical_name uniqueness is enforced only among live (non-deleted) rows; a deleted
-- entity's name may be reused. Partial unique indexes are natively supported by SQLite.
CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_canonical_live
	ON entities(canonical_name) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_entities_attention_tier ON entities(attention_tier) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS memories (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	content             TEXT NOT NULL,
	content_hash        TEXT NOT NULL,
	type                TEXT NOT NULL DEFAULT 'fact',
	importance          REAL NOT NULL DEFAULT 0.5,
	confidence          REAL NOT NULL DEFAULT 1.0,
	access_count        INTEGER NOT NULL DEFAULT 0,
	source_channel      TEXT NOT NULL DEFAULT '',
	deadline_at         TEXT,
	corrected_at        TEXT,
	corrected_from      TEXT NOT NULL DEFAULT '',
	invalidated_at      TEXT,
	invalidated_reason  TEXT NOT NULL DEFAULT '',
	verification_status TEXT NOT NULL DEFAULT 'pending',
	verified_at         TEXT,
	metadata            TEXT NOT NULL DEFAULT '{}',
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_content_hash ON memories(content_hash);
CREATE INDEX IF NOT EXISTS idx_memories_live ON memories(invalidated_at);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
CREATE INDEX IF NOT EXISTS idx_memories_verification ON memories(verification_status);
CREATE INDEX IF NOT EXISTS idx_memories_deadline ON memories(deadline_at) WHERE deadline_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS memory_entities (
	memory_id    INTEGER NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	entity_id    INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	relationship TEXT NOT NULL DEFAULT 'about',
	PRIMARY KEY (memory_id, entity_id, relationship)
);

CREATE INDEX IF NOT EXISTS idx_memory_entities_entity ON memory_entities(entity_id);

CREATE TABLE IF NOT EXISTS relationships (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	source_entity_id  INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	target_entity_id  INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	relationship_type TEXT NOT NULL,
	direction         TEXT NOT NULL DEFAULT 'bidirectional',
	strength          REAL NOT NULL DEFAULT 0.5,
	origin_type       TEXT NOT NULL DEFAULT 'inferred',
	valid_at          TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_entity_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_entity_id);

CREATE TABLE IF NOT EXISTS episodes (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	ended_at      TEXT,
	turn_count    INTEGER NOT NULL DEFAULT 0,
	is_summarized INTEGER NOT NULL DEFAULT 0,
	narrative     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_episodes_unsummarized ON episodes(is_summarized) WHERE is_summarized = 0;

CREATE TABLE IF NOT EXISTS turn_buffer (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	episode_id        INTEGER NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
	turn_number       INTEGER NOT NULL,
	user_content      TEXT NOT NULL DEFAULT '',
	assistant_content TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	UNIQUE (episode_id, turn_number)
);

CREATE TABLE IF NOT EXISTS reflections (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	content            TEXT NOT NULL,
	reflection_type    TEXT NOT NULL DEFAULT 'observation',
	importance         REAL NOT NULL DEFAULT 0.5,
	decay_rate         REAL NOT NULL DEFAULT 0.999,
	aggregation_count  INTEGER NOT NULL DEFAULT 1,
	first_observed_at  TEXT NOT NULL,
	last_confirmed_at  TEXT NOT NULL,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS predictions (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	content                 TEXT NOT NULL,
	prediction_type         TEXT NOT NULL DEFAULT '',
	priority                REAL NOT NULL DEFAULT 0.5,
	is_shown                INTEGER NOT NULL DEFAULT 0,
	is_acted_on             INTEGER NOT NULL DEFAULT 0,
	prediction_pattern_name TEXT NOT NULL DEFAULT '',
	metadata                TEXT NOT NULL DEFAULT '{}',
	created_at              TEXT NOT NULL,
	updated_at              TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_pattern ON predictions(prediction_pattern_name);

CREATE TABLE IF NOT EXISTS agent_dispatches (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	tier        TEXT NOT NULL DEFAULT 'task',
	description TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp      TEXT NOT NULL,
	operation      TEXT NOT NULL,
	entity_id      INTEGER,
	memory_id      INTEGER,
	session_id     TEXT NOT NULL DEFAULT '',
	user_initiated INTEGER NOT NULL DEFAULT 0,
	details        TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_id) WHERE entity_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_audit_log_memory ON audit_log(memory_id) WHERE memory_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS metrics (
	timestamp    TEXT NOT NULL,
	metric_name  TEXT NOT NULL,
	metric_value REAL NOT NULL,
	dimensions   TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_metrics_name_time ON metrics(metric_name, timestamp);
`

// ftsSchema creates the Porter-stemmed, BM25-ranked full-text index mirroring
// memories.content, kept in sync by triggers so every write path (including direct SQL
// used by migrations) stays consistent without relying on application code to remember.
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content,
	content='memories',
	content_rowid='id',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.id, old.content);
	INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
	name,
	content='entities',
	content_rowid='id',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS entities_fts_ai AFTER INSERT ON entities BEGIN
	INSERT INTO entities_fts(rowid, name) VALUES (new.id, new.name);
END;

CREATE TRIGGER IF NOT EXISTS entities_fts_ad AFTER DELETE ON entities BEGIN
	INSERT INTO entities_fts(entities_fts, rowid, name) VALUES ('delete', old.id, old.name);
END;

CREATE TRIGGER IF NOT EXISTS entities_fts_au AFTER UPDATE ON entities BEGIN
	INSERT INTO entities_fts(entities_fts, rowid, name) VALUES ('delete', old.id, old.name);
	INSERT INTO entities_fts(rowid, name) VALUES (new.id, new.name);
END;
`

// vectorSchemaFmt creates the sqlite-vec vec0 virtual table used as the vector index
// adapter. It is created separately from ftsSchema because it depends on the sqlite-vec
// extension being loaded on the connection (see vector.go), and is skipped gracefully
// when that extension is unavailable.
const vectorSchemaFmt = `
CREATE VIRTUAL TABLE IF NOT EXISTS memory_vectors USING vec0(
	memory_id INTEGER PRIMARY KEY,
	embedding FLOAT[%d]
);
`
