package store

import (
	"database/sql"
	"fmt"
)

// FocusItem is a row in focus_items: one slot of the bounded working set.
type FocusItem struct {
	ID              string
	Content         string
	Metadata        map[string]any
	Importance      float64
	AttentionWeight float64
	AccessCount     int
	LastAccessed    int64
	CreatedAt       int64
}

// InsertFocusItem persists a working-set item.
func (db *DB) InsertFocusItem(item *FocusItem) error {
	_, err := db.Exec(`
		INSERT INTO focus_items (id, content, metadata, importance, attention_weight,
			access_count, last_accessed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Content, encodeMetadata(item.Metadata), item.Importance,
		item.AttentionWeight, item.AccessCount, item.LastAccessed, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert focus item: %w", err)
	}
	return nil
}

// GetFocusItem returns an item by id, or nil if not present.
func (db *DB) GetFocusItem(id string) (*FocusItem, error) {
	row := db.QueryRow(`
		SELECT id, content, metadata, importance, attention_weight, access_count, last_accessed, created_at
		FROM focus_items WHERE id = ?
	`, id)
	item, err := scanFocusItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get focus item: %w", err)
	}
	return item, nil
}

// ListFocusItems returns all working-set items.
func (db *DB) ListFocusItems() ([]FocusItem, error) {
	rows, err := db.Query(`
		SELECT id, content, metadata, importance, attention_weight, access_count, last_accessed, created_at
		FROM focus_items
	`)
	if err != nil {
		return nil, fmt.Errorf("list focus items: %w", err)
	}
	defer rows.Close()

	var items []FocusItem
	for rows.Next() {
		item, err := scanFocusItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan focus item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateFocusAccess records an access: new weight, bumped count, fresh timestamp.
func (db *DB) UpdateFocusAccess(id string, weight float64, accessCount int, accessedAt int64) error {
	_, err := db.Exec(`
		UPDATE focus_items SET attention_weight = ?, access_count = ?, last_accessed = ?
		WHERE id = ?
	`, weight, accessCount, accessedAt, id)
	if err != nil {
		return fmt.Errorf("update focus access: %w", err)
	}
	return nil
}

// UpdateFocusWeight persists a recomputed attention weight.
func (db *DB) UpdateFocusWeight(id string, weight float64) error {
	_, err := db.Exec(`UPDATE focus_items SET attention_weight = ? WHERE id = ?`, weight, id)
	if err != nil {
		return fmt.Errorf("update focus weight: %w", err)
	}
	return nil
}

// DeleteFocusItem removes an item from the working set.
func (db *DB) DeleteFocusItem(id string) error {
	_, err := db.Exec(`DELETE FROM focus_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete focus item: %w", err)
	}
	return nil
}

// CountFocusItems returns the working-set occupancy.
func (db *DB) CountFocusItems() (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM focus_items`).Scan(&count)
	return count, err
}

func scanFocusItem(row rowScanner) (*FocusItem, error) {
	var item FocusItem
	var meta string
	err := row.Scan(&item.ID, &item.Content, &meta, &item.Importance,
		&item.AttentionWeight, &item.AccessCount, &item.LastAccessed, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	item.Metadata = decodeMetadata(meta)
	return &item, nil
}
