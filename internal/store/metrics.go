package store

import (
	"database/sql"
	"fmt"
	"time"
)

// DailyMetrics is a row in daily_metrics, one per calendar day.
type DailyMetrics struct {
	Day             string // YYYY-MM-DD
	ShockCount      int
	ProceduralCount int
	LongTermCount   int
	ArchivedCount   int
	Compressions    int
	Forgotten       int
	TokensSaved     int
	AvgRatio        float64
	UpdatedAt       int64
}

// Day formats a timestamp as the daily_metrics key.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// BumpRoutingMetric increments today's counter for a routed tier.
func (db *DB) BumpRoutingMetric(day string, tier Tier) error {
	col := ""
	switch tier {
	case TierShock:
		col = "shock_count"
	case TierProcedural:
		col = "procedural_count"
	case TierLongTerm:
		col = "longterm_count"
	case TierArchive:
		col = "archived_count"
	default:
		return fmt.Errorf("unknown tier %q", tier)
	}

	now := time.Now().UnixMilli()
	query := fmt.Sprintf(`
		INSERT INTO daily_metrics (day, %s, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(day) DO UPDATE SET %s = %s + 1, updated_at = ?
	`, col, col, col)
	if _, err := db.Exec(query, day, now, now); err != nil {
		return fmt.Errorf("bump routing metric: %w", err)
	}
	return nil
}

// RecordCompressionMetrics folds one decay cycle's results into today's row.
// The running average ratio is weighted by compression count.
func (db *DB) RecordCompressionMetrics(day string, compressions, forgotten, tokensSaved int, avgRatio float64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO daily_metrics (day, compressions, forgotten, tokens_saved, avg_ratio, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			avg_ratio = CASE WHEN compressions + ? > 0
				THEN (avg_ratio * compressions + ? * ?) / (compressions + ?)
				ELSE avg_ratio END,
			compressions = compressions + ?,
			forgotten = forgotten + ?,
			tokens_saved = tokens_saved + ?,
			updated_at = ?
	`, day, compressions, forgotten, tokensSaved, avgRatio, now,
		compressions, avgRatio, compressions, compressions,
		compressions, forgotten, tokensSaved, now)
	if err != nil {
		return fmt.Errorf("record compression metrics: %w", err)
	}
	return nil
}

// GetDailyMetrics returns the metrics row for a day, or nil if absent.
func (db *DB) GetDailyMetrics(day string) (*DailyMetrics, error) {
	var m DailyMetrics
	err := db.QueryRow(`
		SELECT day, shock_count, procedural_count, longterm_count, archived_count,
			compressions, forgotten, tokens_saved, avg_ratio, updated_at
		FROM daily_metrics WHERE day = ?
	`, day).Scan(&m.Day, &m.ShockCount, &m.ProceduralCount, &m.LongTermCount,
		&m.ArchivedCount, &m.Compressions, &m.Forgotten, &m.TokensSaved,
		&m.AvgRatio, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily metrics: %w", err)
	}
	return &m, nil
}
