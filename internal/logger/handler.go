// Package logger decorates slog handlers with request-scoped context.
package logger

import (
	"context"
	"log/slog"

	"github.com/umutsun/asemb/internal/middleware"
)

// ContextHandler stamps every record with the correlation id carried in
// the context, so one request's log lines can be grepped together.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(middleware.CorrelationKey).(string); ok && id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	return h.Handler.Handle(ctx, r)
}
