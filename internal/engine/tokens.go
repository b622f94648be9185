package engine

import (
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens for decay phase budgets. It wraps tiktoken's
// cl100k_base encoding and falls back to a chars/4 estimate when the
// encoding cannot be initialized (offline environments).
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter creates a TokenCounter. Initialization failure is not
// fatal; the fallback estimate is good enough to drive compression.
func NewTokenCounter() *TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// Count returns the token count for text.
func (t *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	// Rough heuristic: ~4 chars per token for English text.
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
