package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/engramdev/engram/internal/store"
)

// SearchResult is one hit from the fan-out search across memory layers.
type SearchResult struct {
	Source  string  `json:"source"` // "focus", "fresh", or a tier name
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchResponse carries merged results plus per-layer failures. A layer
// failing never empties the response; whatever succeeded is returned.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Errors  []string       `json:"errors,omitempty"`
}

// SearchMemories fans a query out to the working set (substring match), the
// ingest buffer (semantic), and the requested durable tiers (vector),
// merging by score descending. An empty tier list searches all stored tiers.
func (r *Router) SearchMemories(ctx context.Context, query string, tiers []store.Tier, limit int) (*SearchResponse, error) {
	if limit <= 0 {
		limit = 10
	}
	if len(tiers) == 0 {
		tiers = []store.Tier{store.TierShock, store.TierProcedural, store.TierLongTerm}
	}

	resp := &SearchResponse{}

	// Working set: case-insensitive substring match, scored by attention.
	items, err := r.focus.Items()
	if err != nil {
		resp.Errors = append(resp.Errors, fmt.Sprintf("focus: %v", err))
	} else {
		needle := strings.ToLower(query)
		for _, item := range items {
			if strings.Contains(strings.ToLower(item.Content), needle) {
				resp.Results = append(resp.Results, SearchResult{
					Source:  "focus",
					ID:      item.ID,
					Content: item.Content,
					Score:   item.AttentionWeight / maxAttentionWeight,
				})
			}
		}
	}

	// Ingest buffer: semantic search over live entries.
	freshHits, err := r.fresh.SearchSimilar(ctx, query, limit)
	if err != nil {
		resp.Errors = append(resp.Errors, fmt.Sprintf("fresh: %v", err))
	} else {
		for _, hit := range freshHits {
			resp.Results = append(resp.Results, SearchResult{
				Source:  "fresh",
				ID:      hit.Entry.ID,
				Content: hit.Entry.Content,
				Score:   hit.Similarity,
			})
		}
	}

	// Durable tiers: vector search over stored embeddings.
	r.searchTiers(ctx, query, tiers, resp)

	sort.Slice(resp.Results, func(i, j int) bool {
		if resp.Results[i].Score != resp.Results[j].Score {
			return resp.Results[i].Score > resp.Results[j].Score
		}
		return resp.Results[i].ID < resp.Results[j].ID
	})
	if len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	return resp, nil
}

func (r *Router) searchTiers(ctx context.Context, query string, tiers []store.Tier, resp *SearchResponse) {
	queryVec, err := r.embedQuery(ctx, query)
	if err != nil {
		resp.Errors = append(resp.Errors, fmt.Sprintf("embed query: %v", err))
		return
	}

	vectors, err := r.db.AllTierVectors()
	if err != nil {
		resp.Errors = append(resp.Errors, fmt.Sprintf("tiers: %v", err))
		return
	}

	wanted := make(map[store.Tier]bool, len(tiers))
	for _, t := range tiers {
		wanted[t] = true
	}

	now := r.now().UnixMilli()
	for _, v := range vectors {
		if !wanted[v.Tier] {
			continue
		}
		sim := CosineSimilarity(queryVec, v.Embedding)
		if sim <= 0 {
			continue
		}
		resp.Results = append(resp.Results, SearchResult{
			Source:  string(v.Tier),
			ID:      v.ID,
			Content: v.Content,
			Score:   sim,
		})
		// Retrieval feeds the decay model's recency and repetition boosts.
		if v.Tier == store.TierLongTerm {
			if err := r.db.TouchLongTerm(v.ID, now); err != nil {
				log.Printf("search: touch longterm %s: %v", v.ID, err)
			}
		}
	}
}

func (r *Router) embedQuery(ctx context.Context, query string) ([]float64, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return r.embedder.Embed(ctx, query)
}
