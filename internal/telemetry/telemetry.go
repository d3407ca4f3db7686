// Package telemetry exposes Prometheus metrics for the HTTP surface and the two upstream calls.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/omegarag/internal/rag"
	"github.com/mohammad-safakhou/omegarag/models"
	"github.com/mohammad-safakhou/omegarag/provider/llm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "omegarag"

type Metrics struct {
	gatherer prometheus.Gatherer

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	upstream *prometheus.HistogramVec
	sources  prometheus.Histogram
}

// NewMetrics registers the collectors on reg. Passing prometheus.NewRegistry() keeps tests isolated.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Latency of calls to the search service and the completion provider.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"upstream", "outcome"}),
		sources: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_sources",
			Help:      "Number of studies returned per search.",
			Buckets:   []float64{0, 1, 2, 5, 10, 15, 20},
		}),
	}
	reg.MustRegister(m.requests, m.latency, m.upstream, m.sources)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per matched route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) observe(upstream string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.upstream.WithLabelValues(upstream, outcome).Observe(time.Since(start).Seconds())
}

type searcher struct {
	next rag.Searcher
	m    *Metrics
}

// Searcher wraps s so every search is timed and its result count recorded.
func (m *Metrics) Searcher(s rag.Searcher) rag.Searcher {
	return &searcher{next: s, m: m}
}

func (s *searcher) Search(ctx context.Context, req models.SearchRequest) (models.SearchResult, error) {
	start := time.Now()
	res, err := s.next.Search(ctx, req)
	s.m.observe("search", start, err)
	if err == nil {
		s.m.sources.Observe(float64(len(res.Results)))
	}
	return res, err
}

type completer struct {
	llm.Completer
	m *Metrics
}

// Completer wraps c so every completion call is timed.
func (m *Metrics) Completer(c llm.Completer) llm.Completer {
	return &completer{Completer: c, m: m}
}

func (c *completer) Complete(ctx context.Context, req llm.Request) (string, error) {
	start := time.Now()
	out, err := c.Completer.Complete(ctx, req)
	c.m.observe("completion", start, err)
	return out, err
}
