package engine

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/engramdev/engram/internal/store"
	"github.com/google/uuid"
)

// Fresh is the short-TTL ingest buffer every new experience lands in.
// Entries carry their embedding from the moment they are persisted; an
// embedding failure degrades to a zero vector tagged in metadata rather
// than blocking ingestion.
type Fresh struct {
	db           *store.DB
	embedder     Embedder
	ttl          time.Duration
	embedTimeout time.Duration
	now          func() time.Time
}

// NewFresh creates the ingest buffer service.
func NewFresh(db *store.DB, embedder Embedder, ttl, embedTimeout time.Duration) *Fresh {
	if ttl <= 0 {
		ttl = store.DefaultIngestTTL
	}
	if embedTimeout <= 0 {
		embedTimeout = 30 * time.Second
	}
	return &Fresh{
		db:           db,
		embedder:     embedder,
		ttl:          ttl,
		embedTimeout: embedTimeout,
		now:          time.Now,
	}
}

// Add embeds and persists a new experience, returning its id. The entry
// gets the default TTL. A best-effort expiry sweep runs in the background;
// it must never fail the caller's Add.
func (f *Fresh) Add(ctx context.Context, kind, content string, metadata map[string]any, speaker string) (string, error) {
	return f.AddWithTTL(ctx, kind, content, metadata, speaker, f.ttl)
}

// AddWithTTL is Add with an explicit lifespan, used for focus evictions
// which get their own short TTL.
func (f *Fresh) AddWithTTL(ctx context.Context, kind, content string, metadata map[string]any, speaker string, ttl time.Duration) (string, error) {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	vec, degraded := f.embed(ctx, content)
	if degraded {
		metadata["degraded"] = "embedding"
	}

	now := f.now()
	entry := &store.IngestEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		Metadata:  metadata,
		Embedding: vec,
		Degraded:  degraded,
		Speaker:   speaker,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	}
	if err := f.db.InsertEntry(entry); err != nil {
		return "", err
	}

	go f.sweep()

	return entry.ID, nil
}

// sweep flags expired entries. Errors are logged, never surfaced; the
// sweep piggybacks on Add and must not affect it.
func (f *Fresh) sweep() {
	if n, err := f.db.ExpireEntries(f.now().UnixMilli()); err != nil {
		log.Printf("fresh: expiry sweep: %v", err)
	} else if n > 0 {
		log.Printf("fresh: expired %d entries", n)
	}
}

// Get returns a live entry, or nil once it has expired, even if the row
// is still transiently present.
func (f *Fresh) Get(id string) (*store.IngestEntry, error) {
	return f.db.GetEntry(id, f.now().UnixMilli())
}

// Unprocessed returns all live, unclassified entries.
func (f *Fresh) Unprocessed() ([]store.IngestEntry, error) {
	return f.db.ListUnprocessed(f.now().UnixMilli())
}

// MarkProcessed attaches a decision to an entry. Idempotent per id: the
// second call is a no-op and reports stale=false.
func (f *Fresh) MarkProcessed(id, decisionID string) (bool, error) {
	ok, err := f.db.MarkProcessed(id, decisionID)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Printf("fresh: stale classification for %s (already processed or expired)", id)
	}
	return ok, nil
}

// FreshResult is one semantic search hit in the ingest buffer.
type FreshResult struct {
	Entry      store.IngestEntry
	Similarity float64
}

// SearchSimilar ranks live entries by cosine similarity to the query.
func (f *Fresh) SearchSimilar(ctx context.Context, query string, limit int) ([]FreshResult, error) {
	if limit <= 0 {
		limit = 10
	}

	queryVec, degraded := f.embed(ctx, query)
	if degraded {
		return nil, nil
	}

	entries, err := f.db.ListLive(f.now().UnixMilli())
	if err != nil {
		return nil, err
	}

	var results []FreshResult
	for _, e := range entries {
		sim := CosineSimilarity(queryVec, e.Embedding)
		if sim > 0 {
			results = append(results, FreshResult{Entry: e, Similarity: sim})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// embed calls the embedder under a timeout. Failure degrades to a zero
// vector: the record stays routable, tagged degraded, and cosine against a
// zero vector is 0 so it never ranks as similar-to-everything.
func (f *Fresh) embed(ctx context.Context, text string) ([]float64, bool) {
	if f.embedder == nil {
		return nil, true
	}

	ctx, cancel := context.WithTimeout(ctx, f.embedTimeout)
	defer cancel()

	vec, err := f.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("fresh: embed degraded to zero vector: %v", err)
		return make([]float64, f.embedder.Dimensions()), true
	}
	return vec, false
}
