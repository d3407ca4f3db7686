// Package ratelimit implements a fixed-window request limiter backed by Redis.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/omegarag/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "omegarag:ratelimit"

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RedisLimiter counts requests per key in windows aligned to the wall clock.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	start := now.Truncate(l.window)
	bucket := fmt.Sprintf("%s:%s:%d", keyPrefix, key, start.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}

	count := int(incr.Val())
	d := Decision{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: max(l.limit-count, 0),
	}
	if !d.Allowed {
		d.RetryAfter = start.Add(l.window).Sub(now)
	}
	return d, nil
}

// Middleware rejects requests over the limit with 429. Keys are client IPs.
// Limiter failures are logged and the request is let through.
func Middleware(l Limiter, logger *zap.Logger) echo.MiddlewareFunc {
	logger = logging.OrNop(logger).Named("ratelimit")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			d, err := l.Allow(c.Request().Context(), ip)
			if err != nil {
				logger.Warn("rate limiter unavailable", zap.Error(err))
				return next(c)
			}
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
				logger.Info("request rate limited", zap.String("ip", ip), zap.String("path", c.Path()))
				return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests")
			}
			return next(c)
		}
	}
}
