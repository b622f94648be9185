package engine

import (
	"context"
	"log"
	"strings"

	"github.com/engramdev/engram/internal/llm"
)

// Summarizer re-summarizes memory content toward a token budget.
type Summarizer interface {
	Summarize(ctx context.Context, content, instruction string, tokenBudget int) (string, error)
}

// NewSummarizer returns an LLM-backed summarizer when a client is
// configured, with extractive fallback for when the LLM is unreachable;
// without a client, the extractive summarizer runs alone.
func NewSummarizer(client llm.Client, tokens *TokenCounter) Summarizer {
	extractive := &ExtractiveSummarizer{tokens: tokens}
	if client == nil {
		return extractive
	}
	return &LLMSummarizer{client: client, fallback: extractive}
}

// LLMSummarizer compresses via an LLM completion.
type LLMSummarizer struct {
	client   llm.Client
	fallback Summarizer
}

func (s *LLMSummarizer) Summarize(ctx context.Context, content, instruction string, tokenBudget int) (string, error) {
	resp, err := s.client.Complete(ctx, llm.CompressionPrompt(content, instruction, tokenBudget))
	if err != nil {
		log.Printf("summarizer: llm unavailable, falling back to extractive: %v", err)
		return s.fallback.Summarize(ctx, content, instruction, tokenBudget)
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return s.fallback.Summarize(ctx, content, instruction, tokenBudget)
	}
	return out, nil
}

// ExtractiveSummarizer keeps leading sentences until the token budget is
// spent. Deterministic and dependency-free; used when no LLM is configured
// and in tests.
type ExtractiveSummarizer struct {
	tokens *TokenCounter
}

func (s *ExtractiveSummarizer) Summarize(_ context.Context, content, _ string, tokenBudget int) (string, error) {
	if tokenBudget <= 0 || s.tokens.Count(content) <= tokenBudget {
		return content, nil
	}

	var out strings.Builder
	used := 0
	for _, sentence := range splitSentences(content) {
		cost := s.tokens.Count(sentence)
		if used+cost > tokenBudget {
			break
		}
		if out.Len() > 0 {
			out.WriteString(" ")
		}
		out.WriteString(sentence)
		used += cost
		if used >= tokenBudget {
			break
		}
	}

	result := out.String()
	if result == "" {
		// A single oversized sentence: hard-truncate on the rough
		// 4-chars-per-token estimate.
		limit := tokenBudget * 4
		if limit < len(content) {
			result = strings.TrimSpace(content[:limit])
		} else {
			result = content
		}
	}
	return result, nil
}

// splitSentences breaks text on sentence-ending punctuation. Crude, but
// the extractive path only needs rough boundaries.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
