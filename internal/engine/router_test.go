package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/engramdev/engram/internal/store"
)

func TestAddExperienceRoutesShock(t *testing.T) {
	st := newTestStack(t)

	res, err := st.router.AddExperience(context.Background(), AddRequest{
		Kind:    "error",
		Content: "Production database dropped during the migration, all writes failing",
		Metadata: map[string]any{
			"importance":      10.0,
			"affectsSystem":   true,
			"userInitiated":   true,
			"hasConsequences": true,
		},
	})
	if err != nil {
		t.Fatalf("AddExperience: %v", err)
	}
	if res.Decision.TargetTier != store.TierShock {
		t.Fatalf("TargetTier = %s, want shock", res.Decision.TargetTier)
	}
	if res.TargetID == "" {
		t.Error("expected a durable shock row id")
	}

	shock, _, _, err := st.db.TierCounts()
	if err != nil {
		t.Fatalf("TierCounts: %v", err)
	}
	if shock != 1 {
		t.Errorf("shock count = %d, want 1", shock)
	}

	// The ingest entry is marked processed with the decision attached.
	entry, _ := st.fresh.Get(res.IngestID)
	if entry == nil || !entry.Processed {
		t.Error("ingest entry not marked processed")
	}
	if entry != nil && entry.DecisionID != res.Decision.ID {
		t.Errorf("DecisionID = %q, want %q", entry.DecisionID, res.Decision.ID)
	}

	// Importance 10 admits to focus without being asked.
	if res.FocusID == "" {
		t.Error("high-importance experience should enter the working set")
	}

	metrics, _ := st.db.GetDailyMetrics(store.Day(time.Now()))
	if metrics == nil || metrics.ShockCount != 1 {
		t.Error("routing metric not bumped")
	}
}

func TestAddExperienceRoutesLongTerm(t *testing.T) {
	st := newTestStack(t)

	content := strings.Repeat("We settled on sqlite with a write-ahead log for all local persistence. ", 4)
	res, err := st.router.AddExperience(context.Background(), AddRequest{
		Kind:    "decision",
		Content: content,
		Metadata: map[string]any{
			"importance":   9.0,
			"outcome":      "success",
			"satisfaction": 1.0,
			"emotion":      "excited",
			"topic":        "architecture",
		},
		Speaker: "team",
	})
	if err != nil {
		t.Fatalf("AddExperience: %v", err)
	}
	if res.Decision.TargetTier != store.TierLongTerm {
		t.Fatalf("TargetTier = %s, want longterm (composite %f)", res.Decision.TargetTier, res.Decision.CompositeScore)
	}

	m, err := st.db.GetLongTerm(res.TargetID)
	if err != nil {
		t.Fatalf("GetLongTerm: %v", err)
	}
	if m == nil {
		t.Fatal("longterm row missing")
	}
	if m.MemoryPhase != string(PhaseEpisodic) {
		t.Errorf("phase = %s, want episodic", m.MemoryPhase)
	}
	if m.MemoryStrength != 1.0 {
		t.Errorf("strength = %f, want 1.0", m.MemoryStrength)
	}
	// Importance 9 normalizes to 0.9 and earns the longest half-life.
	if m.HalfLifeDays != 60 {
		t.Errorf("HalfLifeDays = %f, want 60", m.HalfLifeDays)
	}
	if m.TokenCount != st.tokens.Count(content) {
		t.Errorf("TokenCount = %d, want %d", m.TokenCount, st.tokens.Count(content))
	}
}

func TestAddExperienceRoutesArchive(t *testing.T) {
	st := newTestStack(t)

	res, err := st.router.AddExperience(context.Background(), AddRequest{
		Kind:    "note",
		Content: "ok",
	})
	if err != nil {
		t.Fatalf("AddExperience: %v", err)
	}
	if res.Decision.TargetTier != store.TierArchive {
		t.Fatalf("TargetTier = %s, want archive", res.Decision.TargetTier)
	}
	// Archive stores nothing durable; the entry just expires out of ingest.
	if res.TargetID != "" {
		t.Errorf("TargetID = %q, want empty for archive", res.TargetID)
	}

	shock, procedural, longterm, _ := st.db.TierCounts()
	if shock+procedural+longterm != 0 {
		t.Error("archive must not create durable rows")
	}
}

func TestAddExperienceMergesProceduralPattern(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	// Seed enough near-identical stored memories that the next arrival is an
	// obvious repetition.
	content := "Always run the database migrations before rolling the deploy"
	vec := mustEmbed(t, st.embedder, content)
	now := time.Now().UnixMilli()
	for i := 0; i < 8; i++ {
		m := &store.LongTermMemory{
			ID: "seed-" + string(rune('a'+i)), Content: content, Embedding: vec,
			MemoryPhase: string(PhaseEpisodic), MemoryStrength: 1, HalfLifeDays: 30,
			CreatedAt: now,
		}
		if err := st.db.InsertLongTerm(m); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	first, err := st.router.AddExperience(ctx, AddRequest{
		Kind: "task", Content: content,
		Metadata: map[string]any{"topic": "deploy"},
	})
	if err != nil {
		t.Fatalf("AddExperience: %v", err)
	}
	if first.Decision.TargetTier != store.TierProcedural {
		t.Fatalf("TargetTier = %s, want procedural (repetition %f)",
			first.Decision.TargetTier, first.Decision.Signals["repetition"])
	}

	second, err := st.router.AddExperience(ctx, AddRequest{
		Kind: "task", Content: content,
		Metadata: map[string]any{"topic": "deploy"},
	})
	if err != nil {
		t.Fatalf("AddExperience second: %v", err)
	}
	if second.Decision.TargetTier != store.TierProcedural {
		t.Fatalf("second TargetTier = %s, want procedural", second.Decision.TargetTier)
	}
	// The same pattern merges instead of growing a new row.
	if second.TargetID != first.TargetID {
		t.Errorf("second TargetID = %q, want merged into %q", second.TargetID, first.TargetID)
	}

	merged, _ := st.db.FindProceduralByPattern("deploy")
	if merged.ObservationCount != 2 {
		t.Errorf("ObservationCount = %d, want 2", merged.ObservationCount)
	}
}

func TestAddExperienceExplicitFocus(t *testing.T) {
	st := newTestStack(t)

	res, err := st.router.AddExperience(context.Background(), AddRequest{
		Kind:       "note",
		Content:    "keep this in mind",
		AddToFocus: true,
	})
	if err != nil {
		t.Fatalf("AddExperience: %v", err)
	}
	if res.FocusID == "" {
		t.Error("AddToFocus should admit to the working set")
	}

	count, _ := st.db.CountFocusItems()
	if count != 1 {
		t.Errorf("focus count = %d, want 1", count)
	}
}

func TestStatusAggregates(t *testing.T) {
	st := newTestStack(t)

	if _, err := st.router.AddExperience(context.Background(), AddRequest{
		Kind: "note", Content: "something small",
	}); err != nil {
		t.Fatalf("AddExperience: %v", err)
	}

	status, err := st.router.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.FreshCount != 1 {
		t.Errorf("FreshCount = %d, want 1", status.FreshCount)
	}
	if status.Decisions != 1 {
		t.Errorf("Decisions = %d, want 1", status.Decisions)
	}
}

func TestHalfLifeForImportance(t *testing.T) {
	tests := []struct {
		importance float64
		want       float64
	}{
		{0.9, 60},
		{0.81, 60},
		{0.8, 45},
		{0.7, 45},
		{0.6, 30},
		{0.3, 30},
	}
	for _, tt := range tests {
		if got := halfLifeForImportance(tt.importance); got != tt.want {
			t.Errorf("halfLifeForImportance(%v) = %v, want %v", tt.importance, got, tt.want)
		}
	}
}
