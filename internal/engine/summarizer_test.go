package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/engramdev/engram/internal/llm"
)

func TestExtractiveUnderBudgetVerbatim(t *testing.T) {
	s := &ExtractiveSummarizer{tokens: NewTokenCounter()}

	content := "Short enough already."
	got, err := s.Summarize(context.Background(), content, "compress", 500)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != content {
		t.Errorf("got %q, want content untouched", got)
	}
}

func TestExtractiveZeroBudgetVerbatim(t *testing.T) {
	s := &ExtractiveSummarizer{tokens: NewTokenCounter()}

	content := strings.Repeat("A sentence that would otherwise be cut. ", 50)
	got, err := s.Summarize(context.Background(), content, "compress", 0)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != content {
		t.Error("zero budget must disable compression, not empty the content")
	}
}

func TestExtractiveKeepsLeadingSentences(t *testing.T) {
	tokens := NewTokenCounter()
	s := &ExtractiveSummarizer{tokens: tokens}

	first := "The deploy failed because the migration lock was held."
	content := first + " " + strings.Repeat("Padding sentence with extra words to spend tokens. ", 40)
	budget := tokens.Count(first) + 2

	got, err := s.Summarize(context.Background(), content, "compress", budget)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.HasPrefix(got, first) {
		t.Errorf("summary %q does not start with the first sentence", got)
	}
	if tokens.Count(got) > budget {
		t.Errorf("summary spends %d tokens, budget %d", tokens.Count(got), budget)
	}
	if got == content {
		t.Error("over-budget content was not shortened")
	}
}

func TestExtractiveOversizedSentenceTruncates(t *testing.T) {
	tokens := NewTokenCounter()
	s := &ExtractiveSummarizer{tokens: tokens}

	// One long sentence with no boundaries to cut at.
	content := strings.Repeat("word ", 400)
	budget := 10

	got, err := s.Summarize(context.Background(), content, "compress", budget)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got == "" {
		t.Fatal("truncation must not empty the content")
	}
	if len(got) > budget*4 {
		t.Errorf("truncated to %d chars, want at most %d", len(got), budget*4)
	}
}

func TestLLMSummarizerUsesResponse(t *testing.T) {
	tokens := NewTokenCounter()
	mock := &llm.MockClient{Response: &llm.Response{Content: "  a tight summary  "}}
	s := NewSummarizer(mock, tokens)

	got, err := s.Summarize(context.Background(), "long original content", "compress", 50)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "a tight summary" {
		t.Errorf("got %q, want trimmed mock response", got)
	}
	if len(mock.Calls) != 1 {
		t.Fatalf("LLM called %d times, want 1", len(mock.Calls))
	}
	if !strings.Contains(mock.Calls[0], "long original content") {
		t.Error("prompt missing the original content")
	}
}

func TestLLMSummarizerFallsBackOnError(t *testing.T) {
	tokens := NewTokenCounter()
	mock := &llm.MockClient{Err: errors.New("connection refused")}
	s := NewSummarizer(mock, tokens)

	content := "Keep this sentence."
	got, err := s.Summarize(context.Background(), content, "compress", 100)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != content {
		t.Errorf("got %q, want extractive fallback output", got)
	}
}

func TestLLMSummarizerFallsBackOnEmpty(t *testing.T) {
	tokens := NewTokenCounter()
	mock := &llm.MockClient{Response: &llm.Response{Content: "   "}}
	s := NewSummarizer(mock, tokens)

	content := "Keep this sentence."
	got, err := s.Summarize(context.Background(), content, "compress", 100)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != content {
		t.Errorf("got %q, want extractive fallback output", got)
	}
}

func TestNewSummarizerNilClient(t *testing.T) {
	s := NewSummarizer(nil, NewTokenCounter())
	if _, ok := s.(*ExtractiveSummarizer); !ok {
		t.Errorf("got %T, want extractive-only summarizer", s)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First. Second! Third?\nFourth")
	want := []string{"First.", "Second!", "Third?", "Fourth"}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}
