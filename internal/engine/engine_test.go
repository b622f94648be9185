package engine

import (
	"testing"
	"time"

	"github.com/engramdev/engram/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testStack wires a full engine over an in-memory store with the
// deterministic hash embedder and no LLM.
type testStack struct {
	db       *store.DB
	embedder *HashEmbedder
	tokens   *TokenCounter
	fresh    *Fresh
	focus    *Focus
	router   *Router
	decay    *Decay
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	db := testDB(t)
	embedder := NewHashEmbedder(64)
	tokens := NewTokenCounter()
	fresh := NewFresh(db, embedder, 10*time.Minute, time.Second)
	focus := NewFocus(db, fresh, 7)
	analyzer := NewAnalyzer(db)
	router := NewRouter(db, fresh, focus, analyzer, embedder, tokens)
	summarizer := NewSummarizer(nil, tokens)
	decay := NewDecay(db, embedder, summarizer, tokens)

	return &testStack{
		db:       db,
		embedder: embedder,
		tokens:   tokens,
		fresh:    fresh,
		focus:    focus,
		router:   router,
		decay:    decay,
	}
}
