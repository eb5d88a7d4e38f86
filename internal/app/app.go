// Package app wires the engine together: store, cache, provider,
// pipeline, retrieval, and the HTTP surface.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/umutsun/asemb/features/document"
	"github.com/umutsun/asemb/features/search"
	"github.com/umutsun/asemb/features/stats"
	"github.com/umutsun/asemb/internal/asemberr"
	"github.com/umutsun/asemb/internal/cache"
	"github.com/umutsun/asemb/internal/config"
	"github.com/umutsun/asemb/internal/embedding"
	"github.com/umutsun/asemb/internal/ingest"
	"github.com/umutsun/asemb/internal/middleware"
	"github.com/umutsun/asemb/internal/notify"
	"github.com/umutsun/asemb/internal/resilience"
	"github.com/umutsun/asemb/internal/retrieval"
	"github.com/umutsun/asemb/internal/text"
	"github.com/umutsun/asemb/internal/vector"
)

type App struct {
	Handler  http.Handler
	Pipeline *ingest.Pipeline
	Cache    *cache.MultiLayer
	Notifier *notify.Notifier

	addr string
}

func New(cfg *config.Config, db *sql.DB, provider embedding.Provider, l2 cache.Store, producer notify.Producer, logger *slog.Logger) (*App, error) {
	store := vector.NewStore(db, cfg.ChunkTable)

	// Error events: logged always, published to NSQ when configured.
	notifier := notify.New(256, producer, cfg.NSQErrorTopic)

	// Multi-layer cache. The breaker guards the L2 tier only; L1 is
	// in-process and cannot fail.
	var l2breaker *resilience.Breaker
	if l2 != nil {
		l2breaker = resilience.NewBreaker("cache-l2", asemberr.CodeCacheUnavailable,
			cfg.BreakerThreshold, time.Duration(cfg.BreakerResetSec)*time.Second)
	}
	ml, err := cache.New(cfg.CacheL1Size, time.Duration(cfg.CacheTTLSeconds)*time.Second, l2, l2breaker)
	if err != nil {
		return nil, err
	}

	// Provider hardening: retry with backoff around a circuit breaker.
	providerRetry := embedding.DefaultProviderRetry
	if cfg.RetryMaxAttempts > 0 {
		providerRetry.MaxAttempts = cfg.RetryMaxAttempts
		providerRetry.InitialDelay = time.Duration(cfg.RetryInitialMs) * time.Millisecond
		providerRetry.MaxDelay = time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond
	}
	providerBreaker := resilience.NewBreaker("embedding", asemberr.CodeProviderUnavailable,
		cfg.BreakerThreshold, time.Duration(cfg.BreakerResetSec)*time.Second)
	resilient := embedding.NewResilient(provider, providerRetry, providerBreaker)

	// Ingestion pipeline
	segOpts := text.SegmentOptions{
		MaxChars:   cfg.ChunkMaxChars,
		Overlap:    cfg.ChunkOverlap,
		Separators: text.DefaultSeparators,
	}
	pipeline, err := ingest.NewPipeline(store, resilient, ml, cfg.IngestWorkers, segOpts, logger)
	if err != nil {
		return nil, err
	}

	// Store failures get the stock recovery policies, with the notifier
	// as the event sink for unrecovered errors.
	recovery := resilience.NewRegistry(notifier)
	for code, strategy := range resilience.DefaultStrategies() {
		recovery.Register(code, strategy)
	}
	pipeline.WithRecovery(recovery)

	// Retrieval service
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(resilient, store, ml,
		time.Duration(cfg.CacheTTLSeconds)*time.Second,
		time.Duration(cfg.SearchTimeoutSec)*time.Second,
		queryLogger)

	documentHandler := document.NewHandler(pipeline)
	searchHandler := search.NewHandler(retrievalService)
	statsHandler := stats.NewHandler(store, ml, map[string]stats.BreakerFunc{
		"embedding": providerBreaker.State,
	})

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /documents", middleware.CorrelationID(enableCORS(documentHandler.Ingest)))
	mux.Handle("POST /documents/batch", middleware.CorrelationID(enableCORS(documentHandler.IngestBatch)))
	mux.Handle("DELETE /documents/{sourceId}", middleware.CorrelationID(enableCORS(documentHandler.Delete)))

	mux.Handle("POST /search", middleware.CorrelationID(enableCORS(searchHandler.Search)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:  mux,
		Pipeline: pipeline,
		Cache:    ml,
		Notifier: notifier,
		addr:     fmt.Sprintf(":%d", cfg.ServerPort),
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.addr,
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "addr", a.addr)
	err := srv.ListenAndServe()

	// Release workers and drain the notifier on every exit path, not
	// just on a clean shutdown.
	a.Pipeline.Release()
	a.Notifier.Close()

	if err != http.ErrServerClosed {
		return err
	}
	return nil
}
