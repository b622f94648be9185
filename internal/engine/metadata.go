package engine

// meta is a typed accessor over the open metadata map. The classifier and
// decay model read their known keys through it so string-key lookups and
// JSON number coercion live in one place.
type meta map[string]any

// trackedMetaKeys are the metadata fields the classifier knows about; the
// richness signal measures how many of them are present.
var trackedMetaKeys = []string{
	"importance", "outcome", "errorRate", "satisfaction", "emotion",
	"topic", "affectsSystem", "userInitiated", "hasConsequences", "timeSensitive",
}

func (m meta) str(key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// float returns the value as a float64. JSON decoding always yields
// float64, but direct callers may pass int.
func (m meta) float(key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (m meta) floatOr(key string, def float64) float64 {
	if v, ok := m.float(key); ok {
		return v
	}
	return def
}

func (m meta) boolean(key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	}
	return false
}

// presentTracked counts how many tracked keys carry a value.
func (m meta) presentTracked() int {
	n := 0
	for _, key := range trackedMetaKeys {
		if _, ok := m[key]; ok {
			n++
		}
	}
	return n
}

// importance01 returns the importance level normalized from the 0-10 scale
// to [0, 1].
func (m meta) importance01() float64 {
	imp := m.floatOr("importance", 5) / 10.0
	return clamp01(imp)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
