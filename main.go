package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/umutsun/asemb/internal/app"
	"github.com/umutsun/asemb/internal/cache"
	"github.com/umutsun/asemb/internal/config"
	"github.com/umutsun/asemb/internal/logger"
	"github.com/umutsun/asemb/internal/notify"
)

func main() {
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	if deps.Embedder == nil {
		slog.Error("GEMINI_API_KEY is required")
		os.Exit(1)
	}

	var l2 cache.Store
	if deps.Redis != nil {
		l2 = cache.NewRedisStore(deps.Redis)
	}
	var producer notify.Producer
	if deps.NSQProducer != nil {
		producer = deps.NSQProducer
	}

	a, err := app.New(cfg, deps.DB, deps.Embedder, l2, producer, log)
	if err != nil {
		slog.Error("failed to build app", "error", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
