package llm

import (
	"context"
	"fmt"

	"github.com/engramdev/engram/internal/config"
)

// Client is the interface for LLM providers used by the compression
// summarizer. An absent client is fine; the engine falls back to
// extractive summarization.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// NewClient creates an LLM client based on the config provider setting.
// An empty provider returns (nil, nil): compression then uses the
// extractive fallback.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.OllamaModel
		if model == "" {
			model = "llama3.2"
		}
		return NewOllama(url, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}
