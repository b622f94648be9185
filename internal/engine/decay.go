package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/engramdev/engram/internal/store"
)

// Phase is a decay stage: progressively smaller representations a
// long-term memory passes through as it ages.
type Phase string

const (
	PhaseEpisodic    Phase = "episodic"
	PhaseCompressed1 Phase = "compressed1"
	PhaseCompressed2 Phase = "compressed2"
	PhaseSemantic    Phase = "semantic"
	PhasePattern     Phase = "pattern"
	PhaseIntuitive   Phase = "intuitive"
	PhaseForgotten   Phase = "forgotten"
)

// phaseStep maps a minimum strength onto a phase and its token budget,
// evaluated highest-first.
type phaseStep struct {
	MinStrength float64
	Phase       Phase
	TokenBudget int
	Instruction string
}

var phaseLadder = []phaseStep{
	{0.70, PhaseEpisodic, 500, "Preserve the concrete facts: who, what, when, and the outcome."},
	{0.50, PhaseCompressed1, 350, "Preserve the facts that matter; drop incidental detail."},
	{0.35, PhaseCompressed2, 250, "Preserve the narrative: what happened and why it mattered."},
	{0.20, PhaseSemantic, 150, "Preserve the semantic essence: the lesson, stripped of specifics."},
	{0.10, PhasePattern, 75, "Preserve the pattern: the recurring shape of this experience."},
	{0.05, PhaseIntuitive, 50, "Preserve the gut feeling: a single impression of this memory."},
}

// PhaseForStrength returns the target phase for a retention strength.
// Below the intuitive floor the memory is forgotten.
func PhaseForStrength(strength float64) Phase {
	for _, step := range phaseLadder {
		if strength >= step.MinStrength {
			return step.Phase
		}
	}
	return PhaseForgotten
}

// TokenBudget returns the token budget for a phase, or 0 for forgotten.
func TokenBudget(p Phase) int {
	for _, step := range phaseLadder {
		if step.Phase == p {
			return step.TokenBudget
		}
	}
	return 0
}

func phaseInstruction(p Phase) string {
	for _, step := range phaseLadder {
		if step.Phase == p {
			return step.Instruction
		}
	}
	return "Preserve what matters most."
}

// Strength computes a memory's current retention strength on the modified
// forgetting curve: exponential half-life decay boosted by success, recent
// access, repeated access, and importance. Clamped to [0, 1] and
// non-increasing in elapsed time, all else equal.
func Strength(m *store.LongTermMemory, now time.Time) float64 {
	halfLife := m.HalfLifeDays
	if halfLife <= 0 {
		halfLife = 30
	}

	days := now.Sub(time.UnixMilli(m.CreatedAt)).Hours() / 24
	if days < 0 {
		days = 0
	}
	strength := math.Pow(0.5, days/halfLife)

	if meta(m.Metadata).str("outcome") == "success" {
		strength *= 1.2
	}

	lastAccess := m.CreatedAt
	if m.LastAccessed != nil {
		lastAccess = *m.LastAccessed
	}
	daysSinceAccess := now.Sub(time.UnixMilli(lastAccess)).Hours() / 24
	if daysSinceAccess < 0 {
		daysSinceAccess = 0
	}
	strength *= 1 + 0.3*math.Exp(-daysSinceAccess/7)

	strength *= 1 + math.Min(float64(m.AccessCount)*0.05, 0.5)

	switch {
	case m.Importance > 0.8:
		strength *= 1.5
	case m.Importance > 0.6:
		strength *= 1.2
	}

	return clamp01(strength)
}

// CompressResult reports one phase compression.
type CompressResult struct {
	MemoryID    string
	Phase       Phase
	TokensSaved int
	Ratio       float64 // compressed/original token ratio
}

// Decay compresses aging long-term memories toward smaller phases.
// Shock-tier records never reach it: protection is structural, they live
// in their own table.
type Decay struct {
	db         *store.DB
	embedder   Embedder
	summarizer Summarizer
	tokens     *TokenCounter
	now        func() time.Time
}

// NewDecay creates the decay engine.
func NewDecay(db *store.DB, embedder Embedder, summarizer Summarizer, tokens *TokenCounter) *Decay {
	return &Decay{
		db:         db,
		embedder:   embedder,
		summarizer: summarizer,
		tokens:     tokens,
		now:        time.Now,
	}
}

// Compress re-summarizes a memory toward the target phase's token budget,
// regenerates its embedding, and persists the new representation.
// Compressing into the current phase is a no-op. Forgotten is a deletion,
// handled by the scheduler, not a compression.
func (d *Decay) Compress(ctx context.Context, id string, target Phase) (*CompressResult, error) {
	if target == PhaseForgotten {
		return nil, fmt.Errorf("memory %s: forgotten is a deletion, not a compression", id)
	}

	m, err := d.db.GetLongTerm(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}

	if Phase(m.MemoryPhase) == target {
		return &CompressResult{MemoryID: id, Phase: target, TokensSaved: 0, Ratio: 1.0}, nil
	}

	budget := TokenBudget(target)
	before := d.tokens.Count(m.Content)

	compressed, err := d.summarizer.Summarize(ctx, m.Content, phaseInstruction(target), budget)
	if err != nil {
		return nil, fmt.Errorf("summarize %s to %s: %w", id, target, err)
	}
	after := d.tokens.Count(compressed)

	// Regenerate the embedding for the new content. Failure degrades to a
	// zero vector, same contract as ingestion.
	embedding, degraded := d.reembed(ctx, compressed)

	now := d.now().UnixMilli()
	m.Content = compressed
	m.Embedding = embedding
	m.Degraded = degraded
	m.MemoryPhase = string(target)
	m.TokenCount = after
	m.LastDecayedAt = &now
	if err := d.db.UpdateLongTermCompressed(m); err != nil {
		return nil, fmt.Errorf("persist compression %s: %w", id, err)
	}

	saved := before - after
	if saved < 0 {
		saved = 0
	}
	ratio := 1.0
	if before > 0 {
		ratio = float64(after) / float64(before)
	}
	return &CompressResult{MemoryID: id, Phase: target, TokensSaved: saved, Ratio: ratio}, nil
}

func (d *Decay) reembed(ctx context.Context, text string) ([]float64, bool) {
	if d.embedder == nil {
		return nil, true
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("decay: re-embed degraded to zero vector: %v", err)
		return make([]float64, d.embedder.Dimensions()), true
	}
	return vec, false
}
