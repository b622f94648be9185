package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/engramdev/engram/internal/store"
	"github.com/google/uuid"
)

// focusImportanceThreshold auto-admits high-importance experiences into the
// working set even when the caller didn't ask.
const focusImportanceThreshold = 8.0

// AddRequest is one experience to remember.
type AddRequest struct {
	Kind       string
	Content    string
	Metadata   map[string]any
	Speaker    string
	AddToFocus bool
}

// AddResult reports where an experience ended up.
type AddResult struct {
	IngestID string
	TargetID string // durable row id; empty for archive
	FocusID  string // empty unless admitted to the working set
	Decision *store.RoutingDecision
}

// tierInsert persists a classified entry into one durable tier and returns
// the new (or merged-into) row id.
type tierInsert func(entry *store.IngestEntry, decision *store.RoutingDecision) (string, error)

// Router is the single public entry point for "remember this": it drives an
// experience through ingest, classification, tier storage, and optional
// working-set admission.
type Router struct {
	db        *store.DB
	fresh     *Fresh
	focus     *Focus
	analyzer  *Analyzer
	embedder  Embedder
	tokens    *TokenCounter
	inserters map[store.Tier]tierInsert
	now       func() time.Time
}

// NewRouter wires the lifecycle services together. Tier dispatch is a
// table, so adding a tier is a map entry, not a new branch.
func NewRouter(db *store.DB, fresh *Fresh, focus *Focus, analyzer *Analyzer, embedder Embedder, tokens *TokenCounter) *Router {
	r := &Router{
		db:       db,
		fresh:    fresh,
		focus:    focus,
		analyzer: analyzer,
		embedder: embedder,
		tokens:   tokens,
		now:      time.Now,
	}
	r.inserters = map[store.Tier]tierInsert{
		store.TierShock:      r.insertShock,
		store.TierProcedural: r.insertProcedural,
		store.TierLongTerm:   r.insertLongTerm,
		store.TierArchive:    r.insertArchive,
	}
	return r
}

// AddExperience ingests, classifies, and routes one experience.
func (r *Router) AddExperience(ctx context.Context, req AddRequest) (*AddResult, error) {
	ingestID, err := r.fresh.Add(ctx, req.Kind, req.Content, req.Metadata, req.Speaker)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	entry, err := r.fresh.Get(ingestID)
	if err != nil {
		return nil, fmt.Errorf("read back %s: %w", ingestID, err)
	}
	if entry == nil {
		// TTL race: the entry expired before we could classify it.
		return nil, fmt.Errorf("entry %s: %w", ingestID, ErrNotFound)
	}

	decision, err := r.analyzer.Analyze(entry)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", ingestID, err)
	}

	if _, err := r.fresh.MarkProcessed(ingestID, decision.ID); err != nil {
		return nil, fmt.Errorf("mark processed %s: %w", ingestID, err)
	}

	insert, ok := r.inserters[decision.TargetTier]
	if !ok {
		return nil, fmt.Errorf("no inserter for tier %q", decision.TargetTier)
	}
	targetID, err := insert(entry, decision)
	if err != nil {
		return nil, fmt.Errorf("store %s to %s: %w", ingestID, decision.TargetTier, err)
	}

	if err := r.db.BumpRoutingMetric(store.Day(r.now()), decision.TargetTier); err != nil {
		log.Printf("router: metrics bump: %v", err)
	}

	result := &AddResult{
		IngestID: ingestID,
		TargetID: targetID,
		Decision: decision,
	}

	importance := meta(entry.Metadata).floatOr("importance", 5)
	if req.AddToFocus || importance >= focusImportanceThreshold {
		focusID, err := r.focus.Add(ctx, req.Content, req.Metadata, importance)
		if err != nil {
			// Focus admission is best effort; the experience is already
			// durably routed.
			log.Printf("router: focus admission for %s: %v", ingestID, err)
		} else {
			result.FocusID = focusID
		}
	}

	return result, nil
}

func (r *Router) insertShock(entry *store.IngestEntry, decision *store.RoutingDecision) (string, error) {
	m := &store.ShockMemory{
		ID:               uuid.NewString(),
		Content:          entry.Content,
		Metadata:         entry.Metadata,
		Embedding:        entry.Embedding,
		Degraded:         entry.Degraded,
		CriticalityScore: decision.Signals["criticality"],
		Protected:        true,
		SourceEventID:    entry.ID,
		CreatedAt:        r.now().UnixMilli(),
	}
	if err := r.db.InsertShock(m); err != nil {
		return "", err
	}
	return m.ID, nil
}

// insertProcedural merges into an existing pattern when one carries the
// same name, otherwise starts a new observation chain.
func (r *Router) insertProcedural(entry *store.IngestEntry, decision *store.RoutingDecision) (string, error) {
	name := patternName(entry)

	existing, err := r.db.FindProceduralByPattern(name)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := r.db.IncrementObservation(existing.ID); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	now := r.now().UnixMilli()
	m := &store.ProceduralMemory{
		ID:               uuid.NewString(),
		Content:          entry.Content,
		Metadata:         entry.Metadata,
		Embedding:        entry.Embedding,
		Degraded:         entry.Degraded,
		PatternName:      name,
		ObservationCount: 1,
		Confidence:       decision.Confidence,
		SourceEventID:    entry.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.db.InsertProcedural(m); err != nil {
		return "", err
	}
	return m.ID, nil
}

func (r *Router) insertLongTerm(entry *store.IngestEntry, decision *store.RoutingDecision) (string, error) {
	importance := meta(entry.Metadata).importance01()
	m := &store.LongTermMemory{
		ID:             uuid.NewString(),
		Content:        entry.Content,
		Metadata:       entry.Metadata,
		Embedding:      entry.Embedding,
		Degraded:       entry.Degraded,
		Importance:     importance,
		MemoryPhase:    string(PhaseEpisodic),
		TokenCount:     r.tokens.Count(entry.Content),
		HalfLifeDays:   halfLifeForImportance(importance),
		MemoryStrength: 1.0,
		SourceEventID:  entry.ID,
		CreatedAt:      r.now().UnixMilli(),
	}
	if err := r.db.InsertLongTerm(m); err != nil {
		return "", err
	}
	return m.ID, nil
}

// insertArchive is deliberately a no-op: archived experiences are left to
// expire out of the ingest buffer.
func (r *Router) insertArchive(_ *store.IngestEntry, _ *store.RoutingDecision) (string, error) {
	return "", nil
}

// patternName derives a merge key for procedural memories: the topic when
// tagged, otherwise the event kind.
func patternName(entry *store.IngestEntry) string {
	if topic := meta(entry.Metadata).str("topic"); topic != "" {
		return topic
	}
	if entry.Kind != "" {
		return entry.Kind
	}
	return "general"
}

// halfLifeForImportance maps importance to a decay half-life: important
// memories take longer to fade.
func halfLifeForImportance(importance01 float64) float64 {
	switch {
	case importance01 > 0.8:
		return 60
	case importance01 > 0.6:
		return 45
	default:
		return 30
	}
}

// FocusItems exposes the working set for read-only callers.
func (r *Router) FocusItems() ([]store.FocusItem, error) {
	return r.focus.Items()
}

// Status aggregates lifecycle counts and today's compression savings.
type Status struct {
	FreshCount        int     `json:"fresh_count"`
	FocusCount        int     `json:"focus_count"`
	ShockCount        int     `json:"shock_count"`
	ProceduralCount   int     `json:"procedural_count"`
	LongTermCount     int     `json:"longterm_count"`
	PendingDecay      int     `json:"pending_decay"`
	CompletedDecay    int     `json:"completed_decay"`
	FailedDecay       int     `json:"failed_decay"`
	Decisions         int     `json:"decisions"`
	TodayCompressions int     `json:"today_compressions"`
	TodayTokensSaved  int     `json:"today_tokens_saved"`
	TodayAvgRatio     float64 `json:"today_avg_ratio"`
}

// Status returns a snapshot of the whole lifecycle.
func (r *Router) Status() (*Status, error) {
	s := &Status{}
	var err error

	now := r.now()
	if s.FreshCount, err = r.db.CountLive(now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("fresh count: %w", err)
	}
	if s.FocusCount, err = r.db.CountFocusItems(); err != nil {
		return nil, fmt.Errorf("focus count: %w", err)
	}
	if s.ShockCount, s.ProceduralCount, s.LongTermCount, err = r.db.TierCounts(); err != nil {
		return nil, fmt.Errorf("tier counts: %w", err)
	}
	if s.PendingDecay, s.CompletedDecay, s.FailedDecay, err = r.db.CountSchedule(); err != nil {
		return nil, fmt.Errorf("schedule counts: %w", err)
	}
	if s.Decisions, err = r.db.CountDecisions(); err != nil {
		return nil, fmt.Errorf("decision count: %w", err)
	}

	metrics, err := r.db.GetDailyMetrics(store.Day(now))
	if err != nil {
		return nil, fmt.Errorf("daily metrics: %w", err)
	}
	if metrics != nil {
		s.TodayCompressions = metrics.Compressions
		s.TodayTokensSaved = metrics.TokensSaved
		s.TodayAvgRatio = metrics.AvgRatio
	}
	return s, nil
}
