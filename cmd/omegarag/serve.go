package main

import (
	"github.com/mohammad-safakhou/omegarag/internal/ratelimit"
	srv "github.com/mohammad-safakhou/omegarag/internal/server"
	"github.com/mohammad-safakhou/omegarag/internal/telemetry"
	"github.com/mohammad-safakhou/omegarag/repository/redis_repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the chat and search HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(*cfgPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
				cfg.Server = cfg.Server.Normalize()
			}

			flush, err := startTracing(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer flush()

			var metrics *telemetry.Metrics
			if cfg.Telemetry.Enabled {
				metrics = telemetry.NewMetrics(prometheus.NewRegistry())
			}
			searcher, orchestrator, err := pipeline(cfg, logger, metrics)
			if err != nil {
				return err
			}

			deps := srv.Deps{Chat: orchestrator, Searcher: searcher, Metrics: metrics}
			if cfg.RateLimit.Enabled {
				rdb, err := redis_repository.Conn(cmd.Context(), cfg.Storage.Redis)
				if err != nil {
					return err
				}
				defer rdb.Close()
				deps.Limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)
				logger.Info("rate limiting enabled",
					zap.Int("requests", cfg.RateLimit.Requests),
					zap.Duration("window", cfg.RateLimit.Window))
			}

			return srv.New(cfg.Server, deps, logger).Run(cmd.Context())
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	return serve
}
