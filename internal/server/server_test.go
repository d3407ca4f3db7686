package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/omegarag/config"
	"github.com/mohammad-safakhou/omegarag/internal/rag"
	"github.com/mohammad-safakhou/omegarag/internal/ratelimit"
	"github.com/mohammad-safakhou/omegarag/internal/telemetry"
	"github.com/mohammad-safakhou/omegarag/models"
	"github.com/mohammad-safakhou/omegarag/provider/llm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSearcher struct {
	calls  int
	last   models.SearchRequest
	result models.SearchResult
	err    error
}

func (s *countingSearcher) Search(_ context.Context, req models.SearchRequest) (models.SearchResult, error) {
	s.calls++
	s.last = req
	return s.result, s.err
}

type countingCompleter struct {
	calls    int
	answer   string
	err      error
	readyErr error
}

func (c *countingCompleter) Ready() error  { return c.readyErr }
func (c *countingCompleter) Model() string { return "test-model" }
func (c *countingCompleter) Complete(context.Context, llm.Request) (string, error) {
	c.calls++
	return c.answer, c.err
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, Limit: 1}, nil
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{
		Address:             ":0",
		CORSOrigin:          "http://localhost:3000",
		EdgeExcludePrefixes: []string{"/api", "/_next/static", "/_next/image", "/favicon.ico"},
		BodyLimit:           "1M",
	}
}

func chatConfig() config.ChatConfig {
	return config.ChatConfig{
		Temperature:       0.7,
		NoResultsMessage:  "no studies",
		DefaultSearchType: "semantic",
		DefaultQueryMode:  "last",
		DefaultTopK:       5,
		DefaultAlpha:      0.5,
	}
}

func study() models.SearchResult {
	return models.SearchResult{Results: []models.Source{{Identifier: "10799369", Title: "EPA and lipids", RelevanceScore: 0.8}}, TotalFound: 1}
}

func newTestServer(s *countingSearcher, c *countingCompleter, deps Deps) http.Handler {
	deps.Chat = rag.New(s, c, chatConfig(), nil)
	deps.Searcher = s
	return New(serverConfig(), deps, nil).Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatSuccess(t *testing.T) {
	s := &countingSearcher{result: study()}
	c := &countingCompleter{answer: "**EPA lowers triglycerides** [1]."}
	h := newTestServer(s, c, Deps{})

	rec := do(h, http.MethodPost, "/api/chat", `{
		"message": "EPA dosage",
		"conversationHistory": [{"type": "user", "content": "hi", "originalMessage": "hi", "timestamp": 1700000000000}],
		"searchParams": {"search_type": "hybrid", "query_mode": "all", "top_k": 12, "alpha": 0.65}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "**EPA lowers triglycerides** [1].", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "10799369", resp.Sources[0].Identifier)
	assert.Equal(t, []string{"hi", "EPA dosage"}, s.last.Queries)
	assert.Equal(t, 12, s.last.TopK)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestChatMissingMessage(t *testing.T) {
	s := &countingSearcher{result: study()}
	c := &countingCompleter{}
	h := newTestServer(s, c, Deps{})

	for _, body := range []string{`{}`, `{"message": ""}`, `{"message": "   "}`} {
		rec := do(h, http.MethodPost, "/api/chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"Message is required"}`, rec.Body.String())
	}
	assert.Zero(t, s.calls)
}

func TestChatMissingCredential(t *testing.T) {
	s := &countingSearcher{result: study()}
	c := &countingCompleter{readyErr: llm.ErrNotConfigured}
	h := newTestServer(s, c, Deps{})

	rec := do(h, http.MethodPost, "/api/chat", `{"message": "EPA dosage"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Configuration error"}`, rec.Body.String())
	assert.Zero(t, s.calls)
	assert.Zero(t, c.calls)
}

func TestChatZeroResults(t *testing.T) {
	s := &countingSearcher{}
	c := &countingCompleter{}
	h := newTestServer(s, c, Deps{})

	rec := do(h, http.MethodPost, "/api/chat", `{"message": "omega-3 and football"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response":"no studies","sources":[]}`, rec.Body.String())
	assert.Zero(t, c.calls)
}

func TestChatErrorMapping(t *testing.T) {
	cases := map[string]struct {
		searchErr error
		llmErr    error
		code      int
		msg       string
	}{
		"provider overloaded": {llmErr: &llm.APIError{Provider: "anthropic", Status: 529}, code: 529, msg: "Error communicating with AI model"},
		"provider bad status": {llmErr: &llm.APIError{Provider: "anthropic", Status: 200}, code: 500, msg: "Error communicating with AI model"},
		"search down":         {searchErr: errors.New("connection refused"), code: 500, msg: "Internal server error"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := &countingSearcher{result: study(), err: tc.searchErr}
			c := &countingCompleter{err: tc.llmErr}
			rec := do(newTestServer(s, c, Deps{}), http.MethodPost, "/api/chat", `{"message": "EPA dosage"}`)
			assert.Equal(t, tc.code, rec.Code)
			assert.JSONEq(t, `{"error":"`+tc.msg+`"}`, rec.Body.String())
		})
	}
}

func TestChatSchemaViolation(t *testing.T) {
	s := &countingSearcher{result: study()}
	h := newTestServer(s, &countingCompleter{}, Deps{})

	for _, body := range []string{
		`{"message": 42}`,
		`{"message": "q", "searchParams": {"top_k": 50}}`,
		`{"message": "q", "searchParams": {"search_type": "vector"}}`,
		`not json`,
	} {
		rec := do(h, http.MethodPost, "/api/chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Zero(t, s.calls)
}

func TestChatAcceptsIntegralFloats(t *testing.T) {
	s := &countingSearcher{result: study()}
	h := newTestServer(s, &countingCompleter{answer: "ok"}, Deps{})

	rec := do(h, http.MethodPost, "/api/chat", `{"message": "q", "searchParams": {"top_k": 5.0},
		"conversationHistory": [{"role": "user", "content": "earlier", "timestamp": 1700000000000.0}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, s.last.TopK)

	rec = do(h, http.MethodPost, "/api/chat", `{"message": "q",
		"conversationHistory": [{"role": "user", "content": "earlier", "timestamp": 1700000000000.5}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, s.calls)

	rec = do(h, http.MethodPost, "/api/search", `{"query": "EPA dosage", "top_k": 5.0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, s.last.TopK)
}

func TestChatRateLimited(t *testing.T) {
	h := newTestServer(&countingSearcher{result: study()}, &countingCompleter{}, Deps{Limiter: denyAll{}})
	rec := do(h, http.MethodPost, "/api/chat", `{"message": "EPA dosage"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"Too many requests"}`, rec.Body.String())
}

type perKeyLimiter struct {
	limit int
	seen  map[string]int
}

func (l *perKeyLimiter) Allow(_ context.Context, key string) (ratelimit.Decision, error) {
	l.seen[key]++
	n := l.seen[key]
	return ratelimit.Decision{Allowed: n <= l.limit, Limit: l.limit, Remaining: max(l.limit-n, 0)}, nil
}

func postFrom(h http.Handler, remote string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message": "EPA dosage"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitIgnoresSpoofedForwardingHeaders(t *testing.T) {
	l := &perKeyLimiter{limit: 1, seen: map[string]int{}}
	s := &countingSearcher{result: study()}
	h := newTestServer(s, &countingCompleter{answer: "ok"}, Deps{Limiter: l})

	var codes []int
	for _, spoof := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		rec := postFrom(h, "10.0.0.7:52100", map[string]string{
			echo.HeaderXForwardedFor: spoof,
			echo.HeaderXRealIP:       spoof,
		})
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	assert.Equal(t, map[string]int{"10.0.0.7": 3}, l.seen)
	assert.Equal(t, 1, s.calls)
}

func TestRateLimitUsesForwardedClientBehindTrustedProxy(t *testing.T) {
	l := &perKeyLimiter{limit: 1, seen: map[string]int{}}
	cfg := serverConfig()
	cfg.TrustedProxies = []string{"10.0.0.0/8"}
	s := &countingSearcher{result: study()}
	h := New(cfg, Deps{Chat: rag.New(s, &countingCompleter{answer: "ok"}, chatConfig(), nil), Searcher: s, Limiter: l}, nil).Handler()

	assert.Equal(t, http.StatusOK, postFrom(h, "10.0.0.7:52100", map[string]string{echo.HeaderXForwardedFor: "9.9.9.9, 1.1.1.1"}).Code)
	assert.Equal(t, http.StatusOK, postFrom(h, "10.0.0.7:52101", map[string]string{echo.HeaderXForwardedFor: "2.2.2.2"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, postFrom(h, "10.0.0.8:52102", map[string]string{echo.HeaderXForwardedFor: "2.2.2.2"}).Code)
	assert.Equal(t, map[string]int{"1.1.1.1": 1, "2.2.2.2": 2}, l.seen)

	// An untrusted peer cannot choose its key.
	assert.Equal(t, http.StatusOK, postFrom(h, "203.0.113.5:4000", map[string]string{echo.HeaderXForwardedFor: "2.2.2.2"}).Code)
	assert.Equal(t, 1, l.seen["203.0.113.5"])
}

func TestSearchRoute(t *testing.T) {
	s := &countingSearcher{result: study()}
	h := newTestServer(s, &countingCompleter{}, Deps{})

	rec := do(h, http.MethodPost, "/api/search", `{"query":"EPA dosage"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, []string{"EPA dosage"}, s.last.Queries)
	assert.Equal(t, models.SearchSemantic, s.last.SearchType)
	assert.Equal(t, 5, s.last.TopK)
	assert.Nil(t, s.last.BlendWeight)

	var res struct {
		Results []map[string]any `json:"results"`
		Total   int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, "10799369", res.Results[0]["PMID"])
}

func TestSearchRouteHybridAllMode(t *testing.T) {
	s := &countingSearcher{result: study()}
	h := newTestServer(s, &countingCompleter{}, Deps{})

	rec := do(h, http.MethodPost, "/api/search", `{"query":"dose","search_type":"hybrid","queryMode":"all","history":["EPA?"," "]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"EPA?", "dose"}, s.last.Queries)
	require.NotNil(t, s.last.BlendWeight)
	assert.Equal(t, 0.5, *s.last.BlendWeight)
}

func TestSearchRouteErrors(t *testing.T) {
	s := &countingSearcher{err: errors.New("backend 500")}
	h := newTestServer(s, &countingCompleter{}, Deps{})

	rec := do(h, http.MethodPost, "/api/search", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Query is required"}`, rec.Body.String())
	assert.Zero(t, s.calls)

	rec = do(h, http.MethodPost, "/api/search", `{"query":"EPA"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestSearchPreflight(t *testing.T) {
	h := newTestServer(&countingSearcher{}, &countingCompleter{}, Deps{})

	rec := do(h, http.MethodOptions, "/api/search", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "http://localhost:3000", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get(echo.HeaderAccessControlAllowMethods))
	assert.Equal(t, "Content-Type", rec.Header().Get(echo.HeaderAccessControlAllowHeaders))
	assert.Equal(t, "86400", rec.Header().Get(echo.HeaderAccessControlMaxAge))
}

func TestEdgeHeaders(t *testing.T) {
	h := newTestServer(&countingSearcher{}, &countingCompleter{}, Deps{})

	rec := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"*"}, rec.Header().Values(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, []string{"GET"}, rec.Header().Values(echo.HeaderAccessControlAllowMethods))

	rec = do(h, http.MethodPost, "/api/chat", `{}`)
	assert.Empty(t, rec.Header().Values(echo.HeaderAccessControlAllowMethods))
	assert.Empty(t, rec.Header().Values(echo.HeaderAccessControlAllowOrigin))
}

func TestMetricsEndpoint(t *testing.T) {
	m := telemetry.NewMetrics(prometheus.NewRegistry())
	h := newTestServer(&countingSearcher{}, &countingCompleter{}, Deps{Metrics: m})

	do(h, http.MethodGet, "/healthz", "")
	rec := do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `omegarag_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}
