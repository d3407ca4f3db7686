package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/omegarag/config"
	"github.com/mohammad-safakhou/omegarag/internal/logging"
	"github.com/mohammad-safakhou/omegarag/internal/rag"
	"github.com/mohammad-safakhou/omegarag/internal/ratelimit"
	"github.com/mohammad-safakhou/omegarag/internal/telemetry"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP surface is built from. Limiter and Metrics are optional.
type Deps struct {
	Chat     Answerer
	Searcher rag.Searcher
	Limiter  ratelimit.Limiter
	Metrics  *telemetry.Metrics
}

type Server struct {
	e      *echo.Echo
	cfg    config.ServerConfig
	logger *zap.Logger
}

// New wires middleware and routes. It performs no I/O.
func New(cfg config.ServerConfig, deps Deps, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger).Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.HTTPErrorHandler = errorHandler(logger)
	e.IPExtractor = clientIP(cfg, logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(accessLog(logger))
	e.Use(EdgeHeaders(cfg.EdgeExcludePrefixes))
	if deps.Metrics != nil {
		e.Use(deps.Metrics.Middleware())
	}
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	api := e.Group("/api")
	var chatMW []echo.MiddlewareFunc
	if deps.Limiter != nil {
		chatMW = append(chatMW, ratelimit.Middleware(deps.Limiter, logger))
	}
	ch := &ChatHandler{RAG: deps.Chat, Logger: logger}
	ch.Register(api, chatMW...)
	sh := &SearchHandler{Searcher: deps.Searcher, CORSOrigin: cfg.CORSOrigin, Logger: logger}
	sh.Register(api)

	if cfg.StaticDir != "" {
		e.Static("/", cfg.StaticDir)
	}

	return &Server{e: e, cfg: cfg, logger: logger}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.cfg.Address))
		errCh <- s.e.Start(s.cfg.Address)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	return s.e.Shutdown(shutdownCtx)
}

// clientIP decides which address keys rate limiting and logs. Without trusted proxies the
// TCP peer is used and forwarding headers are ignored.
func clientIP(cfg config.ServerConfig, logger *zap.Logger) echo.IPExtractor {
	ranges, err := cfg.TrustedProxyRanges()
	if err != nil {
		logger.Warn("ignoring trusted proxies", zap.Error(err))
		ranges = nil
	}
	if len(ranges) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, r := range ranges {
		opts = append(opts, echo.TrustIPRange(r))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

func accessLog(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
				zap.String("remote_ip", v.RemoteIP))
			return nil
		},
	})
}
