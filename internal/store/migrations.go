package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "ingest_entries: short-TTL landing zone for new experiences",
		SQL: `
CREATE TABLE ingest_entries (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    content     TEXT NOT NULL,
    metadata    TEXT NOT NULL DEFAULT '{}',
    embedding   BLOB,
    degraded    INTEGER NOT NULL DEFAULT 0,
    speaker     TEXT,
    processed   INTEGER NOT NULL DEFAULT 0,
    decision_id TEXT,
    expired     INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    expires_at  INTEGER NOT NULL
);

CREATE INDEX idx_ingest_expires   ON ingest_entries(expires_at);
CREATE INDEX idx_ingest_processed ON ingest_entries(processed, expired);
`,
	},
	{
		Version:     2,
		Description: "focus_items: bounded attention-weighted working set",
		SQL: `
CREATE TABLE focus_items (
    id               TEXT PRIMARY KEY,
    content          TEXT NOT NULL,
    metadata         TEXT NOT NULL DEFAULT '{}',
    importance       REAL NOT NULL DEFAULT 0.5,
    attention_weight REAL NOT NULL DEFAULT 1.0,
    access_count     INTEGER NOT NULL DEFAULT 0,
    last_accessed    INTEGER NOT NULL,
    created_at       INTEGER NOT NULL
);
`,
	},
	{
		Version:     3,
		Description: "shock_memories: protected critical-event tier",
		SQL: `
CREATE TABLE shock_memories (
    id                TEXT PRIMARY KEY,
    content           TEXT NOT NULL,
    metadata          TEXT NOT NULL DEFAULT '{}',
    embedding         BLOB,
    degraded          INTEGER NOT NULL DEFAULT 0,
    criticality_score REAL NOT NULL,
    protected         INTEGER NOT NULL DEFAULT 1,
    source_event_id   TEXT,
    created_at        INTEGER NOT NULL
);
`,
	},
	{
		Version:     4,
		Description: "procedural_memories: repeated-pattern tier",
		SQL: `
CREATE TABLE procedural_memories (
    id                TEXT PRIMARY KEY,
    content           TEXT NOT NULL,
    metadata          TEXT NOT NULL DEFAULT '{}',
    embedding         BLOB,
    degraded          INTEGER NOT NULL DEFAULT 0,
    pattern_name      TEXT NOT NULL,
    observation_count INTEGER NOT NULL DEFAULT 1,
    confidence        REAL NOT NULL,
    source_event_id   TEXT,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);

CREATE INDEX idx_procedural_pattern ON procedural_memories(pattern_name);
`,
	},
	{
		Version:     5,
		Description: "longterm_memories: decaying long-term tier",
		SQL: `
CREATE TABLE longterm_memories (
    id              TEXT PRIMARY KEY,
    content         TEXT NOT NULL,
    metadata        TEXT NOT NULL DEFAULT '{}',
    embedding       BLOB,
    degraded        INTEGER NOT NULL DEFAULT 0,
    importance      REAL NOT NULL DEFAULT 0.5,
    memory_phase    TEXT NOT NULL DEFAULT 'episodic',
    token_count     INTEGER NOT NULL DEFAULT 0,
    half_life_days  REAL NOT NULL DEFAULT 30.0,
    memory_strength REAL NOT NULL DEFAULT 1.0,
    last_decayed_at INTEGER,
    access_count    INTEGER NOT NULL DEFAULT 0,
    last_accessed   INTEGER,
    source_event_id TEXT,
    created_at      INTEGER NOT NULL
);

CREATE INDEX idx_longterm_phase   ON longterm_memories(memory_phase);
CREATE INDEX idx_longterm_decayed ON longterm_memories(last_decayed_at);
`,
	},
	{
		Version:     6,
		Description: "routing_decisions: append-only classification audit log",
		SQL: `
CREATE TABLE routing_decisions (
    id              TEXT PRIMARY KEY,
    source_event_id TEXT,
    target_tier     TEXT NOT NULL CHECK (target_tier IN ('shock', 'procedural', 'longterm', 'archive')),
    confidence      REAL NOT NULL,
    composite_score REAL NOT NULL,
    priority        INTEGER NOT NULL,
    signals         TEXT NOT NULL,
    reasoning       TEXT,
    created_at      INTEGER NOT NULL
);

CREATE INDEX idx_decisions_created ON routing_decisions(created_at DESC);
`,
	},
	{
		Version:     7,
		Description: "decay_schedule: pending compression work items",
		SQL: `
CREATE TABLE decay_schedule (
    id            INTEGER PRIMARY KEY,
    memory_id     TEXT NOT NULL,
    current_phase TEXT NOT NULL,
    target_phase  TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
    priority      INTEGER NOT NULL DEFAULT 5,
    error         TEXT,
    tokens_saved  INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);

CREATE INDEX idx_schedule_status ON decay_schedule(status, priority DESC);
`,
	},
	{
		Version:     8,
		Description: "daily_metrics: per-day lifecycle observability counters",
		SQL: `
CREATE TABLE daily_metrics (
    day              TEXT PRIMARY KEY,
    shock_count      INTEGER NOT NULL DEFAULT 0,
    procedural_count INTEGER NOT NULL DEFAULT 0,
    longterm_count   INTEGER NOT NULL DEFAULT 0,
    archived_count   INTEGER NOT NULL DEFAULT 0,
    compressions     INTEGER NOT NULL DEFAULT 0,
    forgotten        INTEGER NOT NULL DEFAULT 0,
    tokens_saved     INTEGER NOT NULL DEFAULT 0,
    avg_ratio        REAL NOT NULL DEFAULT 0,
    updated_at       INTEGER NOT NULL
);
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
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
