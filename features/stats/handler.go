// Package stats reports engine counters: stored chunks, cache hit
// rates, and breaker states.
package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/umutsun/asemb/internal/cache"
	"github.com/umutsun/asemb/internal/middleware"
	"github.com/umutsun/asemb/internal/resilience"
)

type VectorStore interface {
	Count(ctx context.Context) (int, error)
}

type Cache interface {
	Stats() cache.Stats
	BreakerState() resilience.BreakerState
}

// BreakerFunc reports the state of one named breaker.
type BreakerFunc func() resilience.BreakerState

type Handler struct {
	store    VectorStore
	cache    Cache
	breakers map[string]BreakerFunc
}

func NewHandler(store VectorStore, c Cache, breakers map[string]BreakerFunc) *Handler {
	return &Handler{store: store, cache: c, breakers: breakers}
}

type StatsResponse struct {
	Chunks   int               `json:"chunks"`
	Cache    *cache.Stats      `json:"cache,omitempty"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	count, err := h.store.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count chunks", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{Chunks: count}
	if h.cache != nil {
		s := h.cache.Stats()
		resp.Cache = &s
		if resp.Breakers == nil {
			resp.Breakers = map[string]string{}
		}
		resp.Breakers["cache"] = string(h.cache.BreakerState())
	}
	for name, state := range h.breakers {
		if resp.Breakers == nil {
			resp.Breakers = map[string]string{}
		}
		resp.Breakers[name] = string(state())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
