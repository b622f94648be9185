package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/store"
)

// runtime is the fully wired lifecycle stack shared by CLI commands.
type runtime struct {
	cfg       config.Config
	db        *store.DB
	router    *engine.Router
	decay     *engine.Decay
	scheduler *engine.Scheduler
}

func (rt *runtime) Close() {
	if rt.db != nil {
		rt.db.Close()
	}
}

// openRuntime loads config, opens the database, picks an embedder, and
// wires the engine. Quiet controls the startup chatter on stderr.
func openRuntime(quiet bool) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Prefer Ollama embeddings when the daemon answers; fall back to a
	// corpus-local TF-IDF embedder so search and novelty still work offline.
	var embedder engine.Embedder
	if engine.ProbeOllama(cfg.Embedding.OllamaURL, cfg.Embedding.Model) {
		embedder = engine.NewOllamaEmbedder(cfg.Embedding.OllamaURL, cfg.Embedding.Model, cfg.Embedding.Dimensions)
		if !quiet {
			fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", cfg.Embedding.Model)
		}
	} else {
		tfidf, tfidfErr := engine.NewTFIDFEmbedder(db, 512)
		if tfidfErr != nil {
			db.Close()
			return nil, fmt.Errorf("create embedder: %w", tfidfErr)
		}
		embedder = tfidf
		if !quiet {
			fmt.Fprintf(os.Stderr, "  embedder: tfidf (fallback)\n")
		}
	}

	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configure llm: %w", err)
	}
	if !quiet && llmClient != nil {
		fmt.Fprintf(os.Stderr, "  llm: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.OllamaModel)
	}

	tokens := engine.NewTokenCounter()
	fresh := engine.NewFresh(db, embedder,
		time.Duration(cfg.Lifecycle.IngestTTLMinutes)*time.Minute,
		time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second)
	focus := engine.NewFocus(db, fresh, cfg.Lifecycle.FocusCapacity)
	analyzer := engine.NewAnalyzer(db)
	router := engine.NewRouter(db, fresh, focus, analyzer, embedder, tokens)

	summarizer := engine.NewSummarizer(llmClient, tokens)
	decay := engine.NewDecay(db, embedder, summarizer, tokens)
	scheduler := engine.NewScheduler(db, decay,
		time.Duration(cfg.Lifecycle.DecayIntervalHours)*time.Hour,
		cfg.Lifecycle.DecayBatchSize, cfg.Lifecycle.DecayWorkers)

	return &runtime{
		cfg:       cfg,
		db:        db,
		router:    router,
		decay:     decay,
		scheduler: scheduler,
	}, nil
}
