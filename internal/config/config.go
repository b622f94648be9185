package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all engram configuration. Defaults come from Default();
// ENGRAM_* environment variables override individual fields via Load().
type Config struct {
	Server    ServerConfig    `envPrefix:"ENGRAM_SERVER_"`
	Database  DatabaseConfig  `envPrefix:"ENGRAM_DB_"`
	Embedding EmbeddingConfig `envPrefix:"ENGRAM_EMBED_"`
	LLM       LLMConfig       `envPrefix:"ENGRAM_LLM_"`
	Lifecycle LifecycleConfig `envPrefix:"ENGRAM_LIFECYCLE_"`
}

type ServerConfig struct {
	Bind string `env:"BIND"`
	Port int    `env:"PORT"`
}

type DatabaseConfig struct {
	Path string `env:"PATH"`
}

type EmbeddingConfig struct {
	OllamaURL string `env:"OLLAMA_URL"`
	Model     string `env:"MODEL"`
	// Dimensions of the embedding vectors. Degraded zero-vectors are
	// minted at this length so every persisted record stays comparable.
	Dimensions int `env:"DIMENSIONS"`
	// TimeoutSeconds bounds a single embed call. A timeout degrades the
	// record to a zero vector rather than failing ingestion.
	TimeoutSeconds int `env:"TIMEOUT"`
}

type LLMConfig struct {
	Provider    string `env:"PROVIDER"` // "ollama" or "" (extractive fallback)
	OllamaURL   string `env:"OLLAMA_URL"`
	OllamaModel string `env:"OLLAMA_MODEL"`
}

type LifecycleConfig struct {
	// IngestTTLMinutes is how long an unrouted experience survives in the
	// fresh buffer before it is expired.
	IngestTTLMinutes int `env:"INGEST_TTL_MINUTES"`
	// FocusCapacity is the working-set size, clamped to [5, 9].
	FocusCapacity int `env:"FOCUS_CAPACITY"`
	// DecayIntervalHours is the period of the decay scheduler cycle.
	DecayIntervalHours int `env:"DECAY_INTERVAL_HOURS"`
	// DecayBatchSize caps how many schedule items one cycle processes.
	DecayBatchSize int `env:"DECAY_BATCH_SIZE"`
	// DecayWorkers bounds concurrent compression calls.
	DecayWorkers int `env:"DECAY_WORKERS"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37911,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Embedding: EmbeddingConfig{
			OllamaURL:      "http://localhost:11434",
			Model:          "nomic-embed-text",
			Dimensions:     768,
			TimeoutSeconds: 30,
		},
		LLM: LLMConfig{
			Provider:    "",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.2",
		},
		Lifecycle: LifecycleConfig{
			IngestTTLMinutes:   10,
			FocusCapacity:      7,
			DecayIntervalHours: 6,
			DecayBatchSize:     50,
			DecayWorkers:       4,
		},
	}
}

// Load returns Default() with environment overrides applied.
func Load() (Config, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
