package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Tier identifies a routing destination. Archive has no table; archived
// experiences simply expire out of ingest_entries.
type Tier string

const (
	TierShock      Tier = "shock"
	TierProcedural Tier = "procedural"
	TierLongTerm   Tier = "longterm"
	TierArchive    Tier = "archive"
)

// Valid reports whether t names a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierShock, TierProcedural, TierLongTerm, TierArchive:
		return true
	}
	return false
}

// ShockMemory is a row in shock_memories. Protected rows never decay.
type ShockMemory struct {
	ID               string
	Content          string
	Metadata         map[string]any
	Embedding        []float64
	Degraded         bool
	CriticalityScore float64
	Protected        bool
	SourceEventID    string
	CreatedAt        int64
}

// ProceduralMemory is a row in procedural_memories.
type ProceduralMemory struct {
	ID               string
	Content          string
	Metadata         map[string]any
	Embedding        []float64
	Degraded         bool
	PatternName      string
	ObservationCount int
	Confidence       float64
	SourceEventID    string
	CreatedAt        int64
	UpdatedAt        int64
}

// LongTermMemory is a row in longterm_memories, the only tier subject to
// forgetting-curve decay.
type LongTermMemory struct {
	ID             string
	Content        string
	Metadata       map[string]any
	Embedding      []float64
	Degraded       bool
	Importance     float64
	MemoryPhase    string
	TokenCount     int
	HalfLifeDays   float64
	MemoryStrength float64
	LastDecayedAt  *int64
	AccessCount    int
	LastAccessed   *int64
	SourceEventID  string
	CreatedAt      int64
}

// InsertShock persists a shock-tier memory.
func (db *DB) InsertShock(m *ShockMemory) error {
	_, err := db.Exec(`
		INSERT INTO shock_memories (id, content, metadata, embedding, degraded,
			criticality_score, protected, source_event_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)
	`, m.ID, m.Content, encodeMetadata(m.Metadata), encodeEmbedding(m.Embedding),
		boolInt(m.Degraded), m.CriticalityScore, boolInt(m.Protected), m.SourceEventID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert shock memory: %w", err)
	}
	return nil
}

// InsertProcedural persists a procedural-tier memory.
func (db *DB) InsertProcedural(m *ProceduralMemory) error {
	_, err := db.Exec(`
		INSERT INTO procedural_memories (id, content, metadata, embedding, degraded,
			pattern_name, observation_count, confidence, source_event_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?)
	`, m.ID, m.Content, encodeMetadata(m.Metadata), encodeEmbedding(m.Embedding),
		boolInt(m.Degraded), m.PatternName, m.ObservationCount, m.Confidence,
		m.SourceEventID, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert procedural memory: %w", err)
	}
	return nil
}

// FindProceduralByPattern returns the procedural memory carrying the given
// pattern name, or nil if none exists yet.
func (db *DB) FindProceduralByPattern(name string) (*ProceduralMemory, error) {
	var m ProceduralMemory
	var metaStr string
	var blob []byte
	var degraded int
	var sourceID sql.NullString
	err := db.QueryRow(`
		SELECT id, content, metadata, embedding, degraded, pattern_name,
			observation_count, confidence, source_event_id, created_at, updated_at
		FROM procedural_memories WHERE pattern_name = ?
		ORDER BY updated_at DESC LIMIT 1
	`, name).Scan(&m.ID, &m.Content, &metaStr, &blob, &degraded, &m.PatternName,
		&m.ObservationCount, &m.Confidence, &sourceID, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find procedural by pattern: %w", err)
	}
	m.Metadata = decodeMetadata(metaStr)
	m.Embedding = decodeEmbedding(blob)
	m.Degraded = degraded != 0
	m.SourceEventID = sourceID.String
	return &m, nil
}

// IncrementObservation bumps a procedural pattern's observation count and
// nudges its confidence toward 1.0.
func (db *DB) IncrementObservation(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE procedural_memories
		SET observation_count = observation_count + 1,
		    confidence = MIN(confidence + 0.05, 1.0),
		    updated_at = ?
		WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("increment observation: %w", err)
	}
	return nil
}

// InsertLongTerm persists a long-term memory.
func (db *DB) InsertLongTerm(m *LongTermMemory) error {
	_, err := db.Exec(`
		INSERT INTO longterm_memories (id, content, metadata, embedding, degraded,
			importance, memory_phase, token_count, half_life_days, memory_strength,
			last_decayed_at, access_count, last_accessed, source_event_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)
	`, m.ID, m.Content, encodeMetadata(m.Metadata), encodeEmbedding(m.Embedding),
		boolInt(m.Degraded), m.Importance, m.MemoryPhase, m.TokenCount, m.HalfLifeDays,
		m.MemoryStrength, m.LastDecayedAt, m.AccessCount, m.LastAccessed,
		m.SourceEventID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert longterm memory: %w", err)
	}
	return nil
}

// GetLongTerm returns a long-term memory by id, or nil if not found.
func (db *DB) GetLongTerm(id string) (*LongTermMemory, error) {
	row := db.QueryRow(`
		SELECT id, content, metadata, embedding, degraded, importance, memory_phase,
			token_count, half_life_days, memory_strength, last_decayed_at,
			access_count, last_accessed, source_event_id, created_at
		FROM longterm_memories WHERE id = ?
	`, id)
	m, err := scanLongTerm(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get longterm memory: %w", err)
	}
	return m, nil
}

// ListDecayable returns long-term memories whose last decay pass is older
// than the cutoff (or that have never been decayed). Shock rows live in
// their own table, so protection is structural here.
func (db *DB) ListDecayable(cutoff int64) ([]LongTermMemory, error) {
	rows, err := db.Query(`
		SELECT id, content, metadata, embedding, degraded, importance, memory_phase,
			token_count, half_life_days, memory_strength, last_decayed_at,
			access_count, last_accessed, source_event_id, created_at
		FROM longterm_memories
		WHERE last_decayed_at IS NULL OR last_decayed_at < ?
		ORDER BY created_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list decayable: %w", err)
	}
	defer rows.Close()
	return scanLongTerms(rows)
}

// UpdateLongTermStrength persists a recomputed strength and decay timestamp.
func (db *DB) UpdateLongTermStrength(id string, strength float64, decayedAt int64) error {
	_, err := db.Exec(`
		UPDATE longterm_memories SET memory_strength = ?, last_decayed_at = ?
		WHERE id = ?
	`, strength, decayedAt, id)
	if err != nil {
		return fmt.Errorf("update longterm strength: %w", err)
	}
	return nil
}

// UpdateLongTermCompressed writes back the result of a phase compression:
// new phase, re-summarized content, regenerated embedding, refreshed counts.
func (db *DB) UpdateLongTermCompressed(m *LongTermMemory) error {
	_, err := db.Exec(`
		UPDATE longterm_memories
		SET content = ?, embedding = ?, degraded = ?, memory_phase = ?,
		    token_count = ?, memory_strength = ?, last_decayed_at = ?
		WHERE id = ?
	`, m.Content, encodeEmbedding(m.Embedding), boolInt(m.Degraded), m.MemoryPhase,
		m.TokenCount, m.MemoryStrength, m.LastDecayedAt, m.ID)
	if err != nil {
		return fmt.Errorf("update longterm compressed: %w", err)
	}
	return nil
}

// TouchLongTerm records a retrieval: access count and timestamp feed the
// decay model's recency and repetition boosts.
func (db *DB) TouchLongTerm(id string, accessedAt int64) error {
	_, err := db.Exec(`
		UPDATE longterm_memories SET access_count = access_count + 1, last_accessed = ?
		WHERE id = ?
	`, accessedAt, id)
	if err != nil {
		return fmt.Errorf("touch longterm: %w", err)
	}
	return nil
}

// DeleteLongTerm removes a forgotten memory.
func (db *DB) DeleteLongTerm(id string) error {
	_, err := db.Exec(`DELETE FROM longterm_memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete longterm: %w", err)
	}
	return nil
}

// TierVector pairs a durable memory's embedding with its origin, for
// similarity scans across tiers.
type TierVector struct {
	Tier      Tier
	ID        string
	Content   string
	Embedding []float64
}

// AllTierVectors returns every durable memory's embedding across the three
// stored tiers. Degraded (zero) vectors are included; cosine against them
// is 0, so they never rank.
func (db *DB) AllTierVectors() ([]TierVector, error) {
	var out []TierVector

	collect := func(tier Tier, query string) error {
		rows, err := db.Query(query)
		if err != nil {
			return fmt.Errorf("tier vectors %s: %w", tier, err)
		}
		defer rows.Close()
		for rows.Next() {
			var tv TierVector
			var blob []byte
			if err := rows.Scan(&tv.ID, &tv.Content, &blob); err != nil {
				return fmt.Errorf("scan tier vector: %w", err)
			}
			tv.Tier = tier
			tv.Embedding = decodeEmbedding(blob)
			out = append(out, tv)
		}
		return rows.Err()
	}

	if err := collect(TierShock, `SELECT id, content, embedding FROM shock_memories`); err != nil {
		return nil, err
	}
	if err := collect(TierProcedural, `SELECT id, content, embedding FROM procedural_memories`); err != nil {
		return nil, err
	}
	if err := collect(TierLongTerm, `SELECT id, content, embedding FROM longterm_memories`); err != nil {
		return nil, err
	}
	return out, nil
}

// TierCounts returns row counts for the three durable tiers.
func (db *DB) TierCounts() (shock, procedural, longterm int, err error) {
	if err = db.QueryRow(`SELECT COUNT(*) FROM shock_memories`).Scan(&shock); err != nil {
		return
	}
	if err = db.QueryRow(`SELECT COUNT(*) FROM procedural_memories`).Scan(&procedural); err != nil {
		return
	}
	err = db.QueryRow(`SELECT COUNT(*) FROM longterm_memories`).Scan(&longterm)
	return
}

func scanLongTerm(row rowScanner) (*LongTermMemory, error) {
	var m LongTermMemory
	var meta string
	var blob []byte
	var degraded int
	var lastDecayed, lastAccessed sql.NullInt64
	var sourceID sql.NullString
	err := row.Scan(&m.ID, &m.Content, &meta, &blob, &degraded, &m.Importance,
		&m.MemoryPhase, &m.TokenCount, &m.HalfLifeDays, &m.MemoryStrength,
		&lastDecayed, &m.AccessCount, &lastAccessed, &sourceID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Metadata = decodeMetadata(meta)
	m.Embedding = decodeEmbedding(blob)
	m.Degraded = degraded != 0
	m.SourceEventID = sourceID.String
	if lastDecayed.Valid {
		m.LastDecayedAt = &lastDecayed.Int64
	}
	if lastAccessed.Valid {
		m.LastAccessed = &lastAccessed.Int64
	}
	return &m, nil
}

func scanLongTerms(rows *sql.Rows) ([]LongTermMemory, error) {
	var out []LongTermMemory
	for rows.Next() {
		m, err := scanLongTerm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan longterm: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
