package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
	// Optional migrations may fail without failing Open. The full-text
	// index is optional: builds without FTS5 fall back to scanning.
	Optional bool
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: scored, deduplicated memory records",
		SQL: `
CREATE TABLE memories (
    seq            INTEGER PRIMARY KEY,
    id             TEXT NOT NULL UNIQUE,
    content        TEXT NOT NULL,
    content_hash   TEXT NOT NULL UNIQUE,
    category       TEXT NOT NULL DEFAULT 'general',
    importance     REAL NOT NULL DEFAULT 0.5 CHECK (importance BETWEEN 0 AND 1),
    trust          REAL NOT NULL DEFAULT 0.5 CHECK (trust BETWEEN 0 AND 1),
    sensitivity    TEXT NOT NULL DEFAULT 'public',

    -- JSON arrays
    tags           TEXT NOT NULL DEFAULT '[]',
    concepts       TEXT NOT NULL DEFAULT '[]',
    files_read     TEXT NOT NULL DEFAULT '[]',
    files_modified TEXT NOT NULL DEFAULT '[]',

    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    expires_at     INTEGER,
    accessed_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_memories_category ON memories(category);
CREATE INDEX idx_memories_updated  ON memories(updated_at DESC);
CREATE INDEX idx_memories_created  ON memories(created_at);
CREATE INDEX idx_memories_expires  ON memories(expires_at) WHERE expires_at IS NOT NULL;
`,
	},
	{
		Version:     2,
		Description: "facts: subject/predicate/object triples",
		SQL: `
CREATE TABLE facts (
    id              INTEGER PRIMARY KEY,
    subject         TEXT NOT NULL,
    predicate       TEXT NOT NULL,
    object_value    TEXT NOT NULL,
    source_entry_id TEXT,
    created_at      INTEGER NOT NULL,

    FOREIGN KEY (source_entry_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX idx_facts_subject ON facts(subject);
CREATE INDEX idx_facts_source  ON facts(source_entry_id);
`,
	},
	{
		Version:     3,
		Description: "memories_fts: full-text index over memories",
		Optional:    true,
		SQL: `
CREATE VIRTUAL TABLE memories_fts USING fts5(
    content, category, tags,
    content='memories', content_rowid='seq'
);

CREATE TRIGGER memories_ai AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, content, category, tags)
    VALUES (new.seq, new.content, new.category, new.tags);
END;

CREATE TRIGGER memories_ad AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, category, tags)
    VALUES ('delete', old.seq, old.content, old.category, old.tags);
END;

CREATE TRIGGER memories_au AFTER UPDATE OF content, category, tags ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, category, tags)
    VALUES ('delete', old.seq, old.content, old.category, old.tags);
    INSERT INTO memories_fts(rowid, content, category, tags)
    VALUES (new.seq, new.content, new.category, new.tags);
END;
`,
	},
	{
		Version:     4,
		Description: "sessions: one row per host session",
		SQL: `
CREATE TABLE sessions (
    id           TEXT PRIMARY KEY,
    project      TEXT NOT NULL DEFAULT '',
    started_at   INTEGER NOT NULL,
    ended_at     INTEGER,
    tool_calls   INTEGER NOT NULL DEFAULT 0,
    observations INTEGER NOT NULL DEFAULT 0,
    summary_id   TEXT
);

CREATE INDEX idx_sessions_started ON sessions(started_at DESC);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		if err := db.apply(m); err != nil {
			if m.Optional {
				db.log.Warn("store: optional migration skipped", "version", m.Version, "description", m.Description, "err", err)
				continue
			}
			return err
		}
	}

	var fts int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'memories_fts'",
	).Scan(&fts); err != nil {
		return fmt.Errorf("check full-text index: %w", err)
	}
	db.ftsReady = fts > 0
	return nil
}

func (db *DB) apply(m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}

	if _, err := tx.Exec(m.SQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
