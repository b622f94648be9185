package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/engramdev/engram/internal/store"
	"github.com/google/uuid"
)

// Signals is the 7-dimension vector the analyzer derives per record.
// Every signal is normalized to [0, 1].
type Signals struct {
	Success     float64 // outcome quality
	Repetition  float64 // fraction of stored records this one resembles
	Criticality float64 // blast radius of the event
	Novelty     float64 // inverse of maximum similarity to anything stored
	Richness    float64 // how much context the record carries
	Emotion     float64 // emotional intensity lookup
	Urgency     float64 // time pressure
}

// Map returns the named-signal form persisted with each decision.
func (s Signals) Map() map[string]float64 {
	return map[string]float64{
		"success":     s.Success,
		"repetition":  s.Repetition,
		"criticality": s.Criticality,
		"novelty":     s.Novelty,
		"richness":    s.Richness,
		"emotion":     s.Emotion,
		"urgency":     s.Urgency,
	}
}

// primary returns the five signals that feed the composite score.
func (s Signals) primary() []float64 {
	return []float64{s.Success, s.Repetition, s.Criticality, s.Novelty, s.Richness}
}

// Composite score weights for the five primary signals.
const (
	weightSuccess     = 0.35
	weightRepetition  = 0.25
	weightCriticality = 0.20
	weightNovelty     = 0.15
	weightRichness    = 0.05
)

// Routing thresholds. The shock criticality cut is 0.79, not 0.8, to guard
// against floating-point rounding right at the boundary.
const (
	shockCriticality    = 0.79
	shockComposite      = 0.85
	proceduralRepeat    = 0.7
	proceduralComposite = 0.40
	longtermComposite   = 0.60
)

// similarityMatch is the cosine threshold above which a stored record
// counts as a repetition of the incoming one.
const similarityMatch = 0.8

// Emotional intensity lookup. Anything not listed scores 0.2.
var emotionIntensity = map[string]float64{
	"angry":      0.8,
	"furious":    0.8,
	"terrified":  0.8,
	"devastated": 0.8,
	"excited":    0.8,
	"thrilled":   0.8,
	"frustrated": 0.5,
	"worried":    0.5,
	"anxious":    0.5,
	"surprised":  0.5,
	"happy":      0.5,
	"sad":        0.5,
}

// Analyzer computes the signal vector for a record and derives its routing
// decision. Routing is a pure function of the signals: identical signals
// always produce the identical tier.
type Analyzer struct {
	db  *store.DB
	now func() time.Time
}

// NewAnalyzer creates a classifier over the given store.
func NewAnalyzer(db *store.DB) *Analyzer {
	return &Analyzer{db: db, now: time.Now}
}

// Analyze scores the entry, derives tier/confidence/priority, and appends
// the decision to the audit log.
func (a *Analyzer) Analyze(entry *store.IngestEntry) (*store.RoutingDecision, error) {
	vectors, err := a.db.AllTierVectors()
	if err != nil {
		return nil, fmt.Errorf("load tier vectors: %w", err)
	}

	sig := computeSignals(entry, vectors)
	composite := compositeScore(sig)
	tier := routeTier(sig, composite)

	decision := &store.RoutingDecision{
		ID:             uuid.NewString(),
		SourceEventID:  entry.ID,
		TargetTier:     tier,
		Confidence:     confidence(sig),
		CompositeScore: composite,
		Priority:       priority(sig),
		Signals:        sig.Map(),
		Reasoning:      reasoning(sig, composite, tier),
		CreatedAt:      a.now().UnixMilli(),
	}

	if err := a.db.InsertDecision(decision); err != nil {
		return nil, fmt.Errorf("audit decision: %w", err)
	}
	return decision, nil
}

func computeSignals(entry *store.IngestEntry, vectors []store.TierVector) Signals {
	m := meta(entry.Metadata)
	return Signals{
		Success:     successScore(m),
		Repetition:  repetitionSignal(entry.Embedding, vectors),
		Criticality: criticalityScore(m),
		Novelty:     noveltySignal(entry.Embedding, vectors),
		Richness:    richnessScore(entry, m),
		Emotion:     emotionScore(m),
		Urgency:     urgencyScore(entry.Kind, m),
	}
}

// successScore starts from a neutral 0.5 baseline and folds in outcome,
// error rate, and satisfaction when present.
func successScore(m meta) float64 {
	score := 0.5
	switch m.str("outcome") {
	case "success":
		score += 0.3
	case "failure":
		score -= 0.3
	}
	if er, ok := m.float("errorRate"); ok && er > 0 {
		score += (1 - clamp01(er)) * 0.2
	}
	if sat, ok := m.float("satisfaction"); ok {
		score += (sat - 0.5) * 0.3
	}
	return clamp01(score)
}

// repetitionSignal is the fraction of stored records resembling this one,
// capped at 10 matches.
func repetitionSignal(embedding []float64, vectors []store.TierVector) float64 {
	matches := 0
	for _, v := range vectors {
		if CosineSimilarity(embedding, v.Embedding) > similarityMatch {
			matches++
			if matches >= 10 {
				break
			}
		}
	}
	return float64(matches) / 10.0
}

func criticalityScore(m meta) float64 {
	score := m.importance01() * 0.5
	if m.boolean("affectsSystem") {
		score += 0.2
	}
	if m.boolean("userInitiated") {
		score += 0.2
	}
	if m.boolean("hasConsequences") {
		score += 0.1
	}
	return clamp01(score)
}

// noveltySignal inverts the maximum similarity to any stored record.
// An empty store defaults to 0.5 similarity: a new system is neither
// novel nor familiar.
func noveltySignal(embedding []float64, vectors []store.TierVector) float64 {
	if len(vectors) == 0 {
		return 0.5
	}
	maxSim := 0.0
	for _, v := range vectors {
		if sim := CosineSimilarity(embedding, v.Embedding); sim > maxSim {
			maxSim = sim
		}
	}
	return clamp01(1 - maxSim)
}

func richnessScore(entry *store.IngestEntry, m meta) float64 {
	score := 0.0
	switch n := len(entry.Content); {
	case n >= 200:
		score = 0.3
	case n >= 100:
		score = 0.2
	case n >= 50:
		score = 0.1
	}
	score += float64(m.presentTracked()) / float64(len(trackedMetaKeys)) * 0.5
	if entry.Speaker != "" {
		score += 0.2
	}
	return clamp01(score)
}

func emotionScore(m meta) float64 {
	emotion := m.str("emotion")
	if emotion == "" {
		return 0.2
	}
	if intensity, ok := emotionIntensity[emotion]; ok {
		return intensity
	}
	return 0.2
}

// urgencyScore takes the strongest applicable urgency cue.
func urgencyScore(kind string, m meta) float64 {
	u := 0.3
	if kind == "conversation" && u < 0.7 {
		u = 0.7
	}
	if m.boolean("timeSensitive") && u < 0.8 {
		u = 0.8
	}
	if m.floatOr("errorRate", 0) > 0.5 && u < 0.9 {
		u = 0.9
	}
	return u
}

// compositeScore aggregates the five primary signals, amplified by
// emotional intensity, clamped to 1.0.
func compositeScore(s Signals) float64 {
	base := weightSuccess*s.Success +
		weightRepetition*s.Repetition +
		weightCriticality*s.Criticality +
		weightNovelty*s.Novelty +
		weightRichness*s.Richness
	score := base * (1 + s.Emotion*0.2)
	if score > 1 {
		score = 1
	}
	return score
}

// routeTier is the routing decision tree, first match wins.
func routeTier(s Signals, composite float64) store.Tier {
	switch {
	case s.Criticality >= shockCriticality || composite >= shockComposite:
		return store.TierShock
	case s.Repetition > proceduralRepeat && composite >= proceduralComposite:
		return store.TierProcedural
	case composite >= longtermComposite:
		return store.TierLongTerm
	default:
		return store.TierArchive
	}
}

// confidence is high when the primary signals agree tightly, nudged up by
// context richness.
func confidence(s Signals) float64 {
	conf := 1 - math.Min(2*stddev(s.primary()), 1.0) + s.Richness*0.2
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

// priority maps urgency, criticality, and emotion onto the 1-10 task scale.
func priority(s Signals) int {
	p := int(math.Round(s.Urgency*5 + s.Criticality*3 + s.Emotion*2))
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}

func reasoning(s Signals, composite float64, tier store.Tier) string {
	switch tier {
	case store.TierShock:
		return fmt.Sprintf("critical event: criticality=%.2f composite=%.2f", s.Criticality, composite)
	case store.TierProcedural:
		return fmt.Sprintf("repeated pattern: repetition=%.2f composite=%.2f", s.Repetition, composite)
	case store.TierLongTerm:
		return fmt.Sprintf("significant experience: composite=%.2f", composite)
	default:
		return fmt.Sprintf("low signal: composite=%.2f, left to expire", composite)
	}
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
