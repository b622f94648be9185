package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	embedder := engine.NewHashEmbedder(64)
	tokens := engine.NewTokenCounter()
	fresh := engine.NewFresh(db, embedder, 10*time.Minute, time.Second)
	focus := engine.NewFocus(db, fresh, 7)
	router := engine.NewRouter(db, fresh, focus, engine.NewAnalyzer(db), embedder, tokens)

	return New(db, router, "test")
}

func doJSON(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: bad json response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	srv := testServer(t)

	rec, body := doJSON(t, srv, "GET", "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
}

func TestAddExperience(t *testing.T) {
	srv := testServer(t)

	rec, body := doJSON(t, srv, "POST", "/api/experiences",
		`{"kind":"note","content":"remember to rotate the api keys","metadata":{"importance":4}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if body["ingest_id"] == "" || body["ingest_id"] == nil {
		t.Error("ingest_id missing")
	}
	tier, _ := body["tier"].(string)
	if !store.Tier(tier).Valid() {
		t.Errorf("tier = %q, want a valid tier", tier)
	}
	if body["reasoning"] == "" || body["reasoning"] == nil {
		t.Error("reasoning missing")
	}
}

func TestAddExperienceValidation(t *testing.T) {
	srv := testServer(t)

	rec, _ := doJSON(t, srv, "POST", "/api/experiences", `{"kind":"note"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing content: status = %d, want 400", rec.Code)
	}

	rec, _ = doJSON(t, srv, "POST", "/api/experiences", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}
}

func TestSearch(t *testing.T) {
	srv := testServer(t)

	if rec, _ := doJSON(t, srv, "POST", "/api/experiences",
		`{"kind":"note","content":"the staging cluster uses spot instances"}`); rec.Code != http.StatusCreated {
		t.Fatalf("seed failed: %d", rec.Code)
	}

	rec, body := doJSON(t, srv, "GET", "/api/search?q=staging+cluster", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if body["query"] != "staging cluster" {
		t.Errorf("query echoed as %v", body["query"])
	}
	count, _ := body["count"].(float64)
	if count < 1 {
		t.Errorf("count = %v, want at least the fresh hit", body["count"])
	}
}

func TestSearchValidation(t *testing.T) {
	srv := testServer(t)

	rec, _ := doJSON(t, srv, "GET", "/api/search", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", rec.Code)
	}

	rec, _ = doJSON(t, srv, "GET", "/api/search?q=x&tiers=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown tier: status = %d, want 400", rec.Code)
	}
}

func TestSearchTierFilterAccepted(t *testing.T) {
	srv := testServer(t)

	rec, _ := doJSON(t, srv, "GET", "/api/search?q=x&tiers=shock,longterm", "")
	if rec.Code != http.StatusOK {
		t.Errorf("valid tiers rejected: status = %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	srv := testServer(t)

	if rec, _ := doJSON(t, srv, "POST", "/api/experiences",
		`{"content":"one experience for the counters"}`); rec.Code != http.StatusCreated {
		t.Fatalf("seed failed: %d", rec.Code)
	}

	rec, body := doJSON(t, srv, "GET", "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fresh, _ := body["fresh_count"].(float64); fresh != 1 {
		t.Errorf("fresh_count = %v, want 1", body["fresh_count"])
	}
	if decisions, _ := body["decisions"].(float64); decisions != 1 {
		t.Errorf("decisions = %v, want 1", body["decisions"])
	}
}

func TestFocusEndpoint(t *testing.T) {
	srv := testServer(t)

	if rec, _ := doJSON(t, srv, "POST", "/api/experiences",
		`{"content":"pinned context","add_to_focus":true}`); rec.Code != http.StatusCreated {
		t.Fatalf("seed failed: %d", rec.Code)
	}

	rec, body := doJSON(t, srv, "GET", "/api/focus", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if count, _ := body["count"].(float64); count != 1 {
		t.Errorf("count = %v, want 1", body["count"])
	}
	items, _ := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v, want one entry", body["items"])
	}
	item, _ := items[0].(map[string]any)
	if item["content"] != "pinned context" {
		t.Errorf("item content = %v", item["content"])
	}
	if w, _ := item["weight"].(float64); w <= 0 {
		t.Errorf("weight = %v, want positive", item["weight"])
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/api/nope", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
