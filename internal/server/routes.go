package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/store"
)

func (s *Server) handleAddExperience(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind       string         `json:"kind"`
		Content    string         `json:"content"`
		Metadata   map[string]any `json:"metadata"`
		Speaker    string         `json:"speaker"`
		AddToFocus bool           `json:"add_to_focus"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, `{"error":"content required"}`, http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		req.Kind = "experience"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	res, err := s.engine.AddExperience(ctx, engine.AddRequest{
		Kind:       req.Kind,
		Content:    req.Content,
		Metadata:   req.Metadata,
		Speaker:    req.Speaker,
		AddToFocus: req.AddToFocus,
	})
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"ingest_id": res.IngestID,
		"target_id": res.TargetID,
		"focus_id":  res.FocusID,
		"tier":      res.Decision.TargetTier,
		"composite": res.Decision.CompositeScore,
		"priority":  res.Decision.Priority,
		"reasoning": res.Decision.Reasoning,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, `{"error":"q parameter required"}`, http.StatusBadRequest)
		return
	}

	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	var tiers []store.Tier
	if t := r.URL.Query().Get("tiers"); t != "" {
		for _, name := range strings.Split(t, ",") {
			tier := store.Tier(strings.TrimSpace(name))
			if !tier.Valid() {
				http.Error(w, `{"error":"unknown tier `+string(tier)+`"}`, http.StatusBadRequest)
				return
			}
			tiers = append(tiers, tier)
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	resp, err := s.engine.SearchMemories(ctx, query, tiers, limit)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"query":   query,
		"count":   len(resp.Results),
		"results": resp.Results,
		"errors":  resp.Errors,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status()
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.FocusItems()
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	type itemJSON struct {
		ID          string  `json:"id"`
		Content     string  `json:"content"`
		Weight      float64 `json:"weight"`
		AccessCount int     `json:"access_count"`
	}
	out := make([]itemJSON, len(items))
	for i, item := range items {
		out[i] = itemJSON{item.ID, item.Content, item.AttentionWeight, item.AccessCount}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count": len(out),
		"items": out,
	})
}
