package store

import (
	"database/sql"
	"fmt"
	"time"
)

// IngestEntry is a row in ingest_entries: a freshly captured experience
// waiting (briefly) for classification.
type IngestEntry struct {
	ID         string
	Kind       string
	Content    string
	Metadata   map[string]any
	Embedding  []float64
	Degraded   bool
	Speaker    string
	Processed  bool
	DecisionID string
	Expired    bool
	CreatedAt  int64
	ExpiresAt  int64
}

// Live reports whether the entry is usable at the given instant. An entry
// is dead once its TTL elapses even if the expiry sweep hasn't flagged the
// row yet.
func (e *IngestEntry) Live(now int64) bool {
	return !e.Expired && e.ExpiresAt > now
}

// InsertEntry persists a new ingest entry.
func (db *DB) InsertEntry(e *IngestEntry) error {
	_, err := db.Exec(`
		INSERT INTO ingest_entries (id, kind, content, metadata, embedding, degraded, speaker,
			processed, decision_id, expired, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, 0, ?, ?)
	`, e.ID, e.Kind, e.Content, encodeMetadata(e.Metadata), encodeEmbedding(e.Embedding),
		boolInt(e.Degraded), e.Speaker, e.CreatedAt, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert ingest entry: %w", err)
	}
	return nil
}

// GetEntry returns a live entry by id, or nil if missing or expired.
// Rows past their TTL are treated as gone even if the expiry sweep hasn't
// run yet.
func (db *DB) GetEntry(id string, now int64) (*IngestEntry, error) {
	e, err := db.getEntryAny(id)
	if err != nil || e == nil {
		return nil, err
	}
	if !e.Live(now) {
		return nil, nil
	}
	return e, nil
}

func (db *DB) getEntryAny(id string) (*IngestEntry, error) {
	row := db.QueryRow(`
		SELECT id, kind, content, metadata, embedding, degraded, speaker,
			processed, decision_id, expired, created_at, expires_at
		FROM ingest_entries WHERE id = ?
	`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ingest entry: %w", err)
	}
	return e, nil
}

// ListUnprocessed returns all live, unclassified entries, oldest first.
func (db *DB) ListUnprocessed(now int64) ([]IngestEntry, error) {
	rows, err := db.Query(`
		SELECT id, kind, content, metadata, embedding, degraded, speaker,
			processed, decision_id, expired, created_at, expires_at
		FROM ingest_entries
		WHERE processed = 0 AND expired = 0 AND expires_at > ?
		ORDER BY created_at ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListLive returns all live entries, newest first.
func (db *DB) ListLive(now int64) ([]IngestEntry, error) {
	rows, err := db.Query(`
		SELECT id, kind, content, metadata, embedding, degraded, speaker,
			processed, decision_id, expired, created_at, expires_at
		FROM ingest_entries
		WHERE expired = 0 AND expires_at > ?
		ORDER BY created_at DESC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list live entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// MarkProcessed attaches a routing decision to an entry exactly once.
// Returns false when the entry was already processed (or expired mid-flight);
// callers log that as a stale classification, not an error.
func (db *DB) MarkProcessed(id, decisionID string) (bool, error) {
	res, err := db.Exec(`
		UPDATE ingest_entries SET processed = 1, decision_id = ?
		WHERE id = ? AND processed = 0 AND expired = 0
	`, decisionID, id)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ExpireEntries flags every entry whose TTL has elapsed. Returns the number
// of entries archived this sweep.
func (db *DB) ExpireEntries(now int64) (int, error) {
	res, err := db.Exec(`
		UPDATE ingest_entries SET expired = 1
		WHERE expired = 0 AND expires_at <= ?
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeExpired physically deletes expired rows older than the cutoff.
// Expired rows are kept around briefly for audit back-references.
func (db *DB) PurgeExpired(cutoff int64) (int, error) {
	res, err := db.Exec(`
		DELETE FROM ingest_entries WHERE expired = 1 AND expires_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountLive returns the number of live entries.
func (db *DB) CountLive(now int64) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM ingest_entries WHERE expired = 0 AND expires_at > ?
	`, now).Scan(&count)
	return count, err
}

// DefaultIngestTTL is the fresh-buffer lifespan for directly added
// experiences. Focus evictions get a longer leash (see engine.Focus).
const DefaultIngestTTL = 10 * time.Minute

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*IngestEntry, error) {
	var e IngestEntry
	var meta string
	var blob []byte
	var degraded, processed, expired int
	var speaker, decisionID sql.NullString
	err := row.Scan(&e.ID, &e.Kind, &e.Content, &meta, &blob, &degraded, &speaker,
		&processed, &decisionID, &expired, &e.CreatedAt, &e.ExpiresAt)
	if err != nil {
		return nil, err
	}
	e.Metadata = decodeMetadata(meta)
	e.Embedding = decodeEmbedding(blob)
	e.Degraded = degraded != 0
	e.Processed = processed != 0
	e.Expired = expired != 0
	e.Speaker = speaker.String
	e.DecisionID = decisionID.String
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]IngestEntry, error) {
	var entries []IngestEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ingest entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
