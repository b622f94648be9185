package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// RoutingDecision is an append-only audit row in routing_decisions.
// Immutable once created.
type RoutingDecision struct {
	ID             string
	SourceEventID  string // empty when the source entry no longer exists
	TargetTier     Tier
	Confidence     float64
	CompositeScore float64
	Priority       int
	Signals        map[string]float64
	Reasoning      string
	CreatedAt      int64
}

// InsertDecision appends a routing decision to the audit log.
func (db *DB) InsertDecision(d *RoutingDecision) error {
	signals, err := json.Marshal(d.Signals)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO routing_decisions (id, source_event_id, target_tier, confidence,
			composite_score, priority, signals, reasoning, created_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.SourceEventID, string(d.TargetTier), d.Confidence, d.CompositeScore,
		d.Priority, string(signals), d.Reasoning, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert routing decision: %w", err)
	}
	return nil
}

// GetDecision returns a decision by id, or nil if not found.
func (db *DB) GetDecision(id string) (*RoutingDecision, error) {
	var d RoutingDecision
	var tier, signals string
	var sourceID, reasoning sql.NullString
	err := db.QueryRow(`
		SELECT id, source_event_id, target_tier, confidence, composite_score,
			priority, signals, reasoning, created_at
		FROM routing_decisions WHERE id = ?
	`, id).Scan(&d.ID, &sourceID, &tier, &d.Confidence, &d.CompositeScore,
		&d.Priority, &signals, &reasoning, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get routing decision: %w", err)
	}
	d.SourceEventID = sourceID.String
	d.TargetTier = Tier(tier)
	d.Reasoning = reasoning.String
	d.Signals = make(map[string]float64)
	if err := json.Unmarshal([]byte(signals), &d.Signals); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}
	return &d, nil
}

// CountDecisions returns the audit-log size.
func (db *DB) CountDecisions() (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM routing_decisions`).Scan(&count)
	return count, err
}
