package store

import (
	"encoding/binary"
	"encoding/json"
	"math"
)

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
// A nil vector encodes as nil so the column stays NULL.
func encodeEmbedding(vec []float64) []byte {
	if vec == nil {
		return nil
	}
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	if len(buf) == 0 {
		return nil
	}
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// encodeMetadata serializes an open key/value map to JSON TEXT.
// Errors collapse to "{}"; metadata is advisory, never load-bearing enough
// to fail a write.
func encodeMetadata(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// decodeMetadata parses JSON TEXT back into a map. Malformed rows yield an
// empty map rather than an error.
func decodeMetadata(s string) map[string]any {
	m := make(map[string]any)
	if s == "" {
		return m
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]any{}
	}
	return m
}
