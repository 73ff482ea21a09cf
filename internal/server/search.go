package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/setcue/setcue/internal/setlist/postgres"
)

// defaultSearchLimit caps /search results when the client does not ask for a
// specific count.
const defaultSearchLimit = 10

// SongSearcher finds songs across all stored events. Implemented by the
// PostgreSQL setlist store.
type SongSearcher interface {
	// SearchByEmbedding ranks songs by cosine similarity to the query vector.
	SearchByEmbedding(ctx context.Context, vec []float32, topK int) ([]postgres.SongSearchResult, error)

	// SearchByTitle ranks songs by fuzzy and phonetic title similarity.
	SearchByTitle(ctx context.Context, query string, topK int) ([]postgres.SongSearchResult, error)
}

// searchResponse is the /search response body.
type searchResponse struct {
	Query   string                      `json:"query"`
	Method  string                      `json:"method"`
	Results []postgres.SongSearchResult `json:"results"`
}

// handleSearch serves GET /search?q=...&limit=N: semantic song search via
// embeddings when an embedder is configured, with fuzzy title search as the
// fallback (also used when embedding the query fails).
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, `{"error":"missing query parameter q"}`, http.StatusBadRequest)
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			http.Error(w, `{"error":"limit must be an integer in [1, 100]"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	ctx := r.Context()
	resp := searchResponse{Query: query}

	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err == nil {
			results, serr := s.searcher.SearchByEmbedding(ctx, vec, limit)
			if serr == nil {
				resp.Method = "embedding"
				resp.Results = results
				writeSearchJSON(w, resp)
				return
			}
			err = serr
		}
		slog.Warn("embedding search failed, falling back to title search", "err", err)
	}

	results, err := s.searcher.SearchByTitle(ctx, query, limit)
	if err != nil {
		slog.Error("title search failed", "query", query, "err", err)
		http.Error(w, `{"error":"search failed"}`, http.StatusInternalServerError)
		return
	}
	resp.Method = "title"
	resp.Results = results
	writeSearchJSON(w, resp)
}

func writeSearchJSON(w http.ResponseWriter, resp searchResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if resp.Results == nil {
		resp.Results = []postgres.SongSearchResult{}
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("search response encode failed", "err", err)
	}
}
