// Package search exposes hybrid retrieval over HTTP.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/umutsun/asemb/internal/asemberr"
	"github.com/umutsun/asemb/internal/middleware"
	"github.com/umutsun/asemb/internal/retrieval"
	"github.com/umutsun/asemb/internal/vector"
)

type Searcher interface {
	Search(ctx context.Context, query string, opts *retrieval.SearchOptions) ([]retrieval.SearchResult, error)
}

type Handler struct {
	service Searcher
}

func NewHandler(service Searcher) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query        string   `json:"query"`
		BM25Weight   *float64 `json:"bm25Weight"`
		VectorWeight *float64 `json:"vectorWeight"`
		TopK         *int     `json:"topK"`
		Metric       string   `json:"metric"`
		Language     string   `json:"language"`
		Stale        bool     `json:"stale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}

	results, err := h.service.Search(r.Context(), req.Query, &retrieval.SearchOptions{
		BM25Weight:   req.BM25Weight,
		VectorWeight: req.VectorWeight,
		TopK:         req.TopK,
		Metric:       vector.DistanceMetric(req.Metric),
		Language:     req.Language,
		Stale:        req.Stale,
	})
	if err != nil {
		code := asemberr.CodeOf(err)
		status := httpStatus(code)
		message := "search failed"
		var ae *asemberr.Error
		if errors.As(err, &ae) {
			message = ae.UserMessage()
		}
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(r.Context(), "search failed", "error", err, "code", code)
		}
		h.writeError(r.Context(), w, string(code), message, status)
		return
	}
	if results == nil {
		results = []retrieval.SearchResult{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": results}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func httpStatus(code asemberr.Code) int {
	switch code {
	case asemberr.CodeInvalidInput, asemberr.CodeMissingRequired, asemberr.CodeOutOfRange:
		return http.StatusBadRequest
	case asemberr.CodeProviderRateLimited:
		return http.StatusTooManyRequests
	case asemberr.CodeOperationTimeout:
		return http.StatusGatewayTimeout
	case asemberr.CodeStoreConnection, asemberr.CodeStorePoolExhausted, asemberr.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
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
