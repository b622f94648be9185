package store

import (
	"database/sql"
	"fmt"
)

// Schedule item statuses. Completed and failed are terminal.
const (
	SchedulePending    = "pending"
	ScheduleProcessing = "processing"
	ScheduleCompleted  = "completed"
	ScheduleFailed     = "failed"
)

// ScheduleItem is a row in decay_schedule: one pending phase transition.
type ScheduleItem struct {
	ID           int64
	MemoryID     string
	CurrentPhase string
	TargetPhase  string
	Status       string
	Priority     int
	Error        string
	TokensSaved  int
	CreatedAt    int64
	UpdatedAt    int64
}

// InsertScheduleItem enqueues a pending phase transition.
func (db *DB) InsertScheduleItem(item *ScheduleItem) error {
	res, err := db.Exec(`
		INSERT INTO decay_schedule (memory_id, current_phase, target_phase, status,
			priority, tokens_saved, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, 0, ?, ?)
	`, item.MemoryID, item.CurrentPhase, item.TargetPhase, item.Priority,
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule item: %w", err)
	}
	item.Status = SchedulePending
	item.ID, _ = res.LastInsertId()
	return nil
}

// ListPendingSchedule returns up to limit pending items, highest priority
// first, oldest first within a priority.
func (db *DB) ListPendingSchedule(limit int) ([]ScheduleItem, error) {
	rows, err := db.Query(`
		SELECT id, memory_id, current_phase, target_phase, status, priority,
			error, tokens_saved, created_at, updated_at
		FROM decay_schedule
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending schedule: %w", err)
	}
	defer rows.Close()

	var items []ScheduleItem
	for rows.Next() {
		var it ScheduleItem
		var errMsg sql.NullString
		if err := rows.Scan(&it.ID, &it.MemoryID, &it.CurrentPhase, &it.TargetPhase,
			&it.Status, &it.Priority, &errMsg, &it.TokensSaved, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule item: %w", err)
		}
		it.Error = errMsg.String
		items = append(items, it)
	}
	return items, rows.Err()
}

// HasPendingSchedule reports whether a pending or in-flight item already
// exists for the memory, so a rescan doesn't double-enqueue it.
func (db *DB) HasPendingSchedule(memoryID string) (bool, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM decay_schedule
		WHERE memory_id = ? AND status IN ('pending', 'processing')
	`, memoryID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check pending schedule: %w", err)
	}
	return count > 0, nil
}

// ClaimScheduleItem moves a pending item to processing. Returns false if the
// item was already claimed.
func (db *DB) ClaimScheduleItem(id int64, now int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE decay_schedule SET status = 'processing', updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, now, id)
	if err != nil {
		return false, fmt.Errorf("claim schedule item: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompleteScheduleItem marks an item completed with its savings.
func (db *DB) CompleteScheduleItem(id int64, tokensSaved int, now int64) error {
	_, err := db.Exec(`
		UPDATE decay_schedule SET status = 'completed', tokens_saved = ?, updated_at = ?
		WHERE id = ?
	`, tokensSaved, now, id)
	if err != nil {
		return fmt.Errorf("complete schedule item: %w", err)
	}
	return nil
}

// FailScheduleItem marks an item failed with a message. Failed items are
// re-enqueued by the next scan if the memory still needs the transition.
func (db *DB) FailScheduleItem(id int64, msg string, now int64) error {
	_, err := db.Exec(`
		UPDATE decay_schedule SET status = 'failed', error = ?, updated_at = ?
		WHERE id = ?
	`, msg, now, id)
	if err != nil {
		return fmt.Errorf("fail schedule item: %w", err)
	}
	return nil
}

// AgePendingSchedule boosts priority of pending items older than the cutoff
// so slow items cannot starve behind a stream of hot ones. Capped at 10 to
// match the routing priority scale.
func (db *DB) AgePendingSchedule(cutoff int64) (int, error) {
	res, err := db.Exec(`
		UPDATE decay_schedule SET priority = MIN(priority + 1, 10)
		WHERE status = 'pending' AND created_at < ? AND priority < 10
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("age pending schedule: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountSchedule returns counts by status.
func (db *DB) CountSchedule() (pending, completed, failed int, err error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM decay_schedule GROUP BY status`)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count schedule: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, 0, err
		}
		switch status {
		case SchedulePending, ScheduleProcessing:
			pending += n
		case ScheduleCompleted:
			completed = n
		case ScheduleFailed:
			failed = n
		}
	}
	return pending, completed, failed, rows.Err()
}
