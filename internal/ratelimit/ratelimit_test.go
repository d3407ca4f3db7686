package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

type fakeLimiter struct {
	limit int
	seen  map[string]int
	err   error
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (Decision, error) {
	if f.err != nil {
		return Decision{}, f.err
	}
	f.seen[key]++
	n := f.seen[key]
	d := Decision{Allowed: n <= f.limit, Limit: f.limit, Remaining: max(f.limit-n, 0)}
	if !d.Allowed {
		d.RetryAfter = 1500 * time.Millisecond
	}
	return d, nil
}

func newEcho(l Limiter) *echo.Echo {
	e := echo.New()
	e.IPExtractor = echo.ExtractIPDirect()
	e.POST("/api/chat", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"response": "ok"})
	}, Middleware(l, nil))
	return e
}

func post(e *echo.Echo, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.RemoteAddr = ip + ":41000"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	e := newEcho(&fakeLimiter{limit: 2, seen: map[string]int{}})

	assert.Equal(t, http.StatusOK, post(e, "10.0.0.1").Code)
	rec := post(e, "10.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = post(e, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"message":"Too many requests"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, post(e, "10.0.0.2").Code)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	e := newEcho(&fakeLimiter{err: errors.New("redis down")})
	assert.Equal(t, http.StatusOK, post(e, "10.0.0.1").Code)
}
