// Package document exposes the ingestion pipeline over HTTP.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/umutsun/asemb/internal/asemberr"
	"github.com/umutsun/asemb/internal/ingest"
	"github.com/umutsun/asemb/internal/middleware"
)

// Ingestor is the slice of the pipeline the handler drives.
type Ingestor interface {
	Ingest(ctx context.Context, doc ingest.Document) (*ingest.BatchResult, error)
	IngestBatch(ctx context.Context, docs []ingest.Document) []*ingest.BatchResult
	Remove(ctx context.Context, sourceID string) (int64, error)
}

type Handler struct {
	pipeline Ingestor
}

func NewHandler(pipeline Ingestor) *Handler {
	return &Handler{pipeline: pipeline}
}

const maxDocumentBytes = 10 << 20

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes)

	var req struct {
		SourceID string         `json:"sourceId"`
		Text     string         `json:"text"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.SourceID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "sourceId is required", http.StatusBadRequest)
		return
	}

	result, err := h.pipeline.Ingest(r.Context(), ingest.Document{
		SourceID: req.SourceID,
		Text:     req.Text,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.writeEngineError(r.Context(), w, err, "ingestion failed")
		return
	}

	status := http.StatusCreated
	if len(result.Failed) > 0 {
		// Partial success: some chunks are stored, the rest are listed.
		status = http.StatusMultiStatus
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": result}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// IngestBatch accepts several documents in one request. Responds 201
// when every chunk of every document succeeded, 207 otherwise, with one
// result per document in input order.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes)

	var req struct {
		Documents []struct {
			SourceID string         `json:"sourceId"`
			Text     string         `json:"text"`
			Metadata map[string]any `json:"metadata"`
		} `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Documents) == 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "documents is required", http.StatusBadRequest)
		return
	}

	docs := make([]ingest.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = ingest.Document{SourceID: d.SourceID, Text: d.Text, Metadata: d.Metadata}
	}

	results := h.pipeline.IngestBatch(r.Context(), docs)

	status := http.StatusCreated
	for _, res := range results {
		if len(res.Failed) > 0 {
			status = http.StatusMultiStatus
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": results}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("sourceId")
	if sourceID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "sourceId is required", http.StatusBadRequest)
		return
	}

	removed, err := h.pipeline.Remove(r.Context(), sourceID)
	if err != nil {
		h.writeEngineError(r.Context(), w, err, "delete failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]any{
		"sourceId": sourceID,
		"removed":  removed,
	}}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeEngineError(ctx context.Context, w http.ResponseWriter, err error, fallback string) {
	code := asemberr.CodeOf(err)
	status := httpStatus(code)
	message := fallback
	var ae *asemberr.Error
	if errors.As(err, &ae) {
		message = ae.UserMessage()
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "operation failed", "error", err, "code", code)
	}
	h.writeError(ctx, w, string(code), message, status)
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
