package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/face-search/internal/cache"
)

// CacheStats reports the embedding cache contents.
type CacheStats interface {
	Stats(ctx context.Context) (cache.Stats, error)
}

// CacheHandler exposes embedding cache statistics.
type CacheHandler struct {
	cache CacheStats
}

// NewCacheHandler creates a cache handler.
func NewCacheHandler(c CacheStats) *CacheHandler {
	return &CacheHandler{cache: c}
}

// Stats returns entry counts and lookup counters.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		slog.Error("failed to read cache stats", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read cache stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
