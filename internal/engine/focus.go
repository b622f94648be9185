package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/engramdev/engram/internal/store"
	"github.com/google/uuid"
)

const (
	minFocusCapacity = 5
	maxFocusCapacity = 9

	minAttentionWeight = 0.1
	maxAttentionWeight = 10.0

	// accessIncrement is added to an item's weight on every access.
	accessIncrement = 0.5

	// accessBonusCap limits the access-count bonus in weight recomputation.
	accessBonusCap = 2.0

	// evictionTTL is the fresh-buffer lifespan granted to demoted items, a
	// little longer than the default so a recently attended item gets a
	// second chance at classification.
	evictionTTL = 30 * time.Minute
)

// Focus is the bounded, attention-weighted working set. A single mutex
// guards all mutation; stored weights represent the weight at last access,
// and the current weight is derived from elapsed time on read.
type Focus struct {
	mu       sync.Mutex
	db       *store.DB
	fresh    *Fresh
	capacity int
	now      func() time.Time
}

// NewFocus creates the working set. Capacity is clamped to [5, 9].
func NewFocus(db *store.DB, fresh *Fresh, capacity int) *Focus {
	if capacity < minFocusCapacity {
		capacity = minFocusCapacity
	}
	if capacity > maxFocusCapacity {
		capacity = maxFocusCapacity
	}
	return &Focus{
		db:       db,
		fresh:    fresh,
		capacity: capacity,
		now:      time.Now,
	}
}

// Capacity returns the configured working-set bound.
func (f *Focus) Capacity() int { return f.capacity }

// Add inserts an item, evicting the minimum-weight item first when the set
// is full. The evictee is demoted into the fresh buffer, never dropped.
// Importance is on the 0-10 scale and seeds the initial attention weight.
func (f *Focus) Add(ctx context.Context, content string, metadata map[string]any, importance float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count, err := f.db.CountFocusItems()
	if err != nil {
		return "", fmt.Errorf("focus occupancy: %w", err)
	}
	if count >= f.capacity {
		if err := f.evictLocked(ctx); err != nil {
			return "", fmt.Errorf("focus eviction: %w", err)
		}
	}

	now := f.now()
	item := &store.FocusItem{
		ID:              uuid.NewString(),
		Content:         content,
		Metadata:        metadata,
		Importance:      importance,
		AttentionWeight: clampWeight(importance),
		LastAccessed:    now.UnixMilli(),
		CreatedAt:       now.UnixMilli(),
	}
	if err := f.db.InsertFocusItem(item); err != nil {
		return "", err
	}
	return item.ID, nil
}

// evictLocked removes the single lowest-weight item and demotes it into the
// fresh buffer tagged source=focus-eviction. Tie-break: oldest lastAccessed
// wins; identical timestamps fall back to the smaller id, so eviction is
// fully deterministic.
func (f *Focus) evictLocked(ctx context.Context) error {
	items, err := f.db.ListFocusItems()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	now := f.now()
	victim := items[0]
	victimWeight := currentWeight(&items[0], now)
	for _, item := range items[1:] {
		w := currentWeight(&item, now)
		switch {
		case w < victimWeight:
			victim, victimWeight = item, w
		case w == victimWeight:
			if item.LastAccessed < victim.LastAccessed ||
				(item.LastAccessed == victim.LastAccessed && item.ID < victim.ID) {
				victim = item
			}
		}
	}

	demoted := make(map[string]any, len(victim.Metadata)+2)
	for k, v := range victim.Metadata {
		demoted[k] = v
	}
	demoted["source"] = "focus-eviction"
	demoted["importance"] = victimWeight // normalized back to 0-10 attention scale

	if _, err := f.fresh.AddWithTTL(ctx, "focus-eviction", victim.Content, demoted, "", evictionTTL); err != nil {
		return fmt.Errorf("demote evictee %s: %w", victim.ID, err)
	}
	return f.db.DeleteFocusItem(victim.ID)
}

// Access boosts an item's weight and bumps its access bookkeeping.
// Returns nil if the item is not in the working set.
func (f *Focus) Access(id string) (*store.FocusItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, err := f.db.GetFocusItem(id)
	if err != nil || item == nil {
		return nil, err
	}

	now := f.now()
	weight := clampWeight(currentWeight(item, now) + accessIncrement)
	item.AttentionWeight = weight
	item.AccessCount++
	item.LastAccessed = now.UnixMilli()
	if err := f.db.UpdateFocusAccess(id, weight, item.AccessCount, item.LastAccessed); err != nil {
		return nil, err
	}
	return item, nil
}

// Remove takes an item out of the working set, archiving it into the fresh
// buffer (tagged source=focus-archive) rather than deleting outright.
func (f *Focus) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, err := f.db.GetFocusItem(id)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrNotFound
	}

	archived := make(map[string]any, len(item.Metadata)+1)
	for k, v := range item.Metadata {
		archived[k] = v
	}
	archived["source"] = "focus-archive"

	if _, err := f.fresh.AddWithTTL(ctx, "focus-archive", item.Content, archived, "", evictionTTL); err != nil {
		return fmt.Errorf("archive focus item %s: %w", id, err)
	}
	return f.db.DeleteFocusItem(id)
}

// Items returns the working set with freshly computed attention weights,
// sorted descending by weight. Weights in the result are derived; the
// stored base weight is only rewritten on access.
func (f *Focus) Items() ([]store.FocusItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.db.ListFocusItems()
	if err != nil {
		return nil, err
	}

	now := f.now()
	for i := range items {
		items[i].AttentionWeight = currentWeight(&items[i], now)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].AttentionWeight != items[j].AttentionWeight {
			return items[i].AttentionWeight > items[j].AttentionWeight
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// currentWeight derives an item's present attention weight: exponential
// time decay of the stored base weight (~10%/hour) plus an access-count
// bonus, clamped to [0.1, 10.0].
func currentWeight(item *store.FocusItem, now time.Time) float64 {
	minutes := now.Sub(time.UnixMilli(item.LastAccessed)).Minutes()
	if minutes < 0 {
		minutes = 0
	}
	w := item.AttentionWeight * math.Pow(0.9, minutes/60)
	w += math.Min(0.1*float64(item.AccessCount), accessBonusCap)
	return clampWeight(w)
}

func clampWeight(w float64) float64 {
	if w < minAttentionWeight {
		return minAttentionWeight
	}
	if w > maxAttentionWeight {
		return maxAttentionWeight
	}
	return w
}
