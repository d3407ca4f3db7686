package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/omegarag/config"
	"github.com/mohammad-safakhou/omegarag/internal/logging"
	"github.com/mohammad-safakhou/omegarag/internal/rag"
	"github.com/mohammad-safakhou/omegarag/internal/telemetry"
	"github.com/mohammad-safakhou/omegarag/provider"
	"github.com/mohammad-safakhou/omegarag/tools/search"
	"go.uber.org/zap"
)

func loadRuntime(cfgPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.General.LogLevel, cfg.General.Debug)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// pipeline builds the retrieval gateway and the orchestrator. metrics may be nil.
func pipeline(cfg *config.Config, logger *zap.Logger, metrics *telemetry.Metrics) (rag.Searcher, *rag.Orchestrator, error) {
	completer, err := provider.NewProvider(cfg.Providers, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("completion provider: %w", err)
	}
	if err := completer.Ready(); err != nil {
		logger.Warn("completion provider is not configured; chat requests will fail",
			zap.String("provider", cfg.Providers.Default))
	}

	var searcher rag.Searcher = search.NewClient(cfg.Search, logger)
	if metrics != nil {
		searcher = metrics.Searcher(searcher)
		completer = metrics.Completer(completer)
	}
	return searcher, rag.New(searcher, completer, cfg.Chat, logger), nil
}

// startTracing installs the configured span exporter; the returned func flushes it.
func startTracing(ctx context.Context, cfg *config.Config, logger *zap.Logger) (func(), error) {
	tr, err := telemetry.SetupTracing(ctx, cfg.Telemetry, nil)
	if err != nil {
		return nil, err
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tr.Shutdown(shutdownCtx); err != nil {
			logger.Warn("flush traces", zap.Error(err))
		}
	}, nil
}
