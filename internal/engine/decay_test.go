package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/engramdev/engram/internal/store"
)

func TestPhaseForStrength(t *testing.T) {
	tests := []struct {
		strength float64
		want     Phase
	}{
		{1.0, PhaseEpisodic},
		{0.70, PhaseEpisodic},
		{0.699, PhaseCompressed1},
		{0.50, PhaseCompressed1},
		{0.35, PhaseCompressed2},
		{0.20, PhaseSemantic},
		{0.10, PhasePattern},
		{0.05, PhaseIntuitive},
		{0.049, PhaseForgotten},
		{0, PhaseForgotten},
	}
	for _, tt := range tests {
		if got := PhaseForStrength(tt.strength); got != tt.want {
			t.Errorf("PhaseForStrength(%v) = %s, want %s", tt.strength, got, tt.want)
		}
	}
}

func TestTokenBudgetShrinksDownLadder(t *testing.T) {
	phases := []Phase{PhaseEpisodic, PhaseCompressed1, PhaseCompressed2, PhaseSemantic, PhasePattern, PhaseIntuitive}
	prev := math.MaxInt
	for _, p := range phases {
		b := TokenBudget(p)
		if b <= 0 {
			t.Errorf("TokenBudget(%s) = %d, want > 0", p, b)
		}
		if b >= prev {
			t.Errorf("TokenBudget(%s) = %d, want < %d", p, b, prev)
		}
		prev = b
	}
	if TokenBudget(PhaseForgotten) != 0 {
		t.Error("forgotten phase has no budget")
	}
}

func TestStrengthHalfLife(t *testing.T) {
	now := time.Now()
	m := &store.LongTermMemory{
		CreatedAt:    now.AddDate(0, 0, -30).UnixMilli(),
		HalfLifeDays: 30,
		Importance:   0.5,
	}

	// One half-life elapsed, no boosts beyond a tiny recency tail:
	// strength should sit just above 0.5.
	got := Strength(m, now)
	if got < 0.5 || got > 0.55 {
		t.Errorf("Strength after one half-life = %f, want ~0.5", got)
	}
}

func TestStrengthFreshMemoryClamped(t *testing.T) {
	now := time.Now()
	m := &store.LongTermMemory{
		CreatedAt:    now.UnixMilli(),
		HalfLifeDays: 30,
		Importance:   0.9,
		Metadata:     map[string]any{"outcome": "success"},
	}
	if got := Strength(m, now); got != 1.0 {
		t.Errorf("fresh boosted memory strength = %f, want clamped 1.0", got)
	}
}

func TestStrengthMonotoneNonIncreasing(t *testing.T) {
	m := &store.LongTermMemory{
		CreatedAt:    time.Now().UnixMilli(),
		HalfLifeDays: 30,
		Importance:   0.5,
	}
	prev := math.Inf(1)
	for days := 0; days <= 120; days += 10 {
		now := time.UnixMilli(m.CreatedAt).AddDate(0, 0, days)
		s := Strength(m, now)
		if s > prev {
			t.Errorf("strength increased with age at day %d: %f > %f", days, s, prev)
		}
		prev = s
	}
}

func TestStrengthBoosts(t *testing.T) {
	now := time.Now()
	base := &store.LongTermMemory{
		CreatedAt:    now.AddDate(0, 0, -60).UnixMilli(),
		HalfLifeDays: 30,
		Importance:   0.5,
	}
	baseline := Strength(base, now)

	success := *base
	success.Metadata = map[string]any{"outcome": "success"}
	if Strength(&success, now) <= baseline {
		t.Error("success outcome should boost strength")
	}

	accessed := *base
	recent := now.Add(-time.Hour).UnixMilli()
	accessed.LastAccessed = &recent
	accessed.AccessCount = 5
	if Strength(&accessed, now) <= baseline {
		t.Error("recent repeated access should boost strength")
	}

	important := *base
	important.Importance = 0.9
	if Strength(&important, now) <= baseline {
		t.Error("high importance should boost strength")
	}
}

func TestCompressRejectsForgotten(t *testing.T) {
	st := newTestStack(t)

	if _, err := st.decay.Compress(context.Background(), "m1", PhaseForgotten); err == nil {
		t.Error("expected error compressing to forgotten")
	}
}

func TestCompressMissingMemory(t *testing.T) {
	st := newTestStack(t)

	_, err := st.decay.Compress(context.Background(), "nope", PhaseSemantic)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCompressSamePhaseNoOp(t *testing.T) {
	st := newTestStack(t)
	now := time.Now().UnixMilli()

	m := &store.LongTermMemory{
		ID: "m1", Content: "short note", MemoryPhase: string(PhaseEpisodic),
		MemoryStrength: 1, CreatedAt: now,
	}
	if err := st.db.InsertLongTerm(m); err != nil {
		t.Fatalf("InsertLongTerm: %v", err)
	}

	res, err := st.decay.Compress(context.Background(), "m1", PhaseEpisodic)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.TokensSaved != 0 || res.Ratio != 1.0 {
		t.Errorf("no-op result = %+v, want 0 saved, ratio 1.0", res)
	}

	got, _ := st.db.GetLongTerm("m1")
	if got.Content != "short note" {
		t.Error("no-op compression must not touch content")
	}
}

func TestCompressShrinksContent(t *testing.T) {
	st := newTestStack(t)
	now := time.Now().UnixMilli()

	// Many sentences so the extractive summarizer has boundaries to cut at.
	var b strings.Builder
	for i := 0; i < 80; i++ {
		b.WriteString("The deploy pipeline failed again because the staging cluster ran out of disk space during image builds. ")
	}
	content := b.String()

	m := &store.LongTermMemory{
		ID: "m1", Content: content, MemoryPhase: string(PhaseEpisodic),
		TokenCount: st.tokens.Count(content), MemoryStrength: 0.4, CreatedAt: now,
	}
	if err := st.db.InsertLongTerm(m); err != nil {
		t.Fatalf("InsertLongTerm: %v", err)
	}

	res, err := st.decay.Compress(context.Background(), "m1", PhaseSemantic)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Phase != PhaseSemantic {
		t.Errorf("Phase = %s, want semantic", res.Phase)
	}
	if res.TokensSaved <= 0 {
		t.Errorf("TokensSaved = %d, want > 0", res.TokensSaved)
	}
	if res.Ratio >= 1.0 {
		t.Errorf("Ratio = %f, want < 1.0", res.Ratio)
	}

	got, _ := st.db.GetLongTerm("m1")
	if got.MemoryPhase != string(PhaseSemantic) {
		t.Errorf("stored phase = %s, want semantic", got.MemoryPhase)
	}
	if len(got.Content) >= len(content) {
		t.Error("content did not shrink")
	}
	if got.LastDecayedAt == nil {
		t.Error("LastDecayedAt not set")
	}
	if got.TokenCount != st.tokens.Count(got.Content) {
		t.Errorf("TokenCount = %d, want %d", got.TokenCount, st.tokens.Count(got.Content))
	}
}
