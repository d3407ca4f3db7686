// Package search is the client for the external study search service.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/omegarag/config"
	"github.com/mohammad-safakhou/omegarag/internal/helpers"
	"github.com/mohammad-safakhou/omegarag/internal/httpclient"
	"github.com/mohammad-safakhou/omegarag/internal/logging"
	"github.com/mohammad-safakhou/omegarag/models"
	"go.uber.org/zap"
)

// ErrNoQueries is returned when a search is attempted without any query text.
var ErrNoQueries = errors.New("search requires at least one query")

// BackendError is a non-success answer from the search service.
type BackendError struct {
	Status int
	Detail string
}

func (e *BackendError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("search backend returned status %d", e.Status)
	}
	return fmt.Sprintf("search backend returned status %d: %s", e.Status, e.Detail)
}

const (
	ConventionDistance   = "distance"
	ConventionSimilarity = "similarity"
)

type Client struct {
	baseURL    string
	convention string
	http       *httpclient.Client
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = httpclient.Wrap(hc) }
}

func NewClient(cfg config.SearchConfig, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		convention: cfg.ScoreConvention,
		http:       httpclient.New(cfg.Timeout),
		logger:     logging.OrNop(logger).Named("search"),
	}
	if c.convention == "" {
		c.convention = ConventionDistance
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type wireRequest struct {
	Queries    []string          `json:"queries"`
	SearchType models.SearchType `json:"search_type"`
	TopK       int               `json:"top_k"`
	Alpha      *float64          `json:"alpha,omitempty"`
}

type wireResponse struct {
	Results    []wireSource `json:"results"`
	Total      *int         `json:"total"`
	TotalFound *int         `json:"total_found"`
}

type wireSource struct {
	PMID             models.FlexString `json:"PMID"`
	Title            string            `json:"title"`
	Abstract         string            `json:"abstract"`
	Journal          string            `json:"journal"`
	PublicationDate  string            `json:"publication_date"`
	Country          string            `json:"country"`
	DomainPrimary    string            `json:"domain_primary"`
	DomainSecondary  string            `json:"domain_secondary"`
	Population       string            `json:"trial_population"`
	MeasuredOutcomes models.Outcomes   `json:"measured_outcomes"`
	ObservedOutcomes models.Outcomes   `json:"observed_outcomes"`
	URL              string            `json:"url"`
	Distance         *float64          `json:"__nn_distance"`
	Similarity       *float64          `json:"similarity"`
}

// Search runs one retrieval against <base_url>/search. Blend weight is only sent for hybrid searches.
func (c *Client) Search(ctx context.Context, req models.SearchRequest) (models.SearchResult, error) {
	if len(req.Queries) == 0 {
		return models.SearchResult{}, ErrNoQueries
	}

	body := wireRequest{
		Queries:    req.Queries,
		SearchType: req.SearchType,
		TopK:       req.TopK,
	}
	if req.SearchType == models.SearchHybrid {
		body.Alpha = req.BlendWeight
	}

	c.logger.Debug("search request",
		zap.Int("queries", len(req.Queries)),
		zap.String("search_type", string(req.SearchType)),
		zap.Int("top_k", req.TopK),
		zap.Bool("alpha_set", body.Alpha != nil))

	start := time.Now()
	var resp wireResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/search", nil, body, &resp); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return models.SearchResult{}, &BackendError{Status: se.Code, Detail: detail(se.Body)}
		}
		return models.SearchResult{}, err
	}

	result := c.normalize(resp)
	c.logger.Debug("search finished",
		zap.Int("results", len(result.Results)),
		zap.Int("total", result.TotalFound),
		zap.Duration("latency", time.Since(start)))
	return result, nil
}

func (c *Client) normalize(resp wireResponse) models.SearchResult {
	out := models.SearchResult{Results: make([]models.Source, 0, len(resp.Results))}
	switch {
	case resp.Total != nil:
		out.TotalFound = *resp.Total
	case resp.TotalFound != nil:
		out.TotalFound = *resp.TotalFound
	}
	for _, w := range resp.Results {
		out.Results = append(out.Results, models.Source{
			Identifier:       string(w.PMID),
			Title:            helpers.PlainText(w.Title),
			Abstract:         helpers.PlainText(w.Abstract),
			Journal:          w.Journal,
			PublicationDate:  w.PublicationDate,
			Country:          w.Country,
			DomainPrimary:    w.DomainPrimary,
			DomainSecondary:  w.DomainSecondary,
			Population:       w.Population,
			MeasuredOutcomes: w.MeasuredOutcomes,
			ObservedOutcomes: w.ObservedOutcomes,
			RelevanceScore:   c.relevance(w),
			SourceURL:        helpers.SourceURL(w.URL, string(w.PMID)),
		})
	}
	return out
}

// relevance converts the backend score so that higher always means more relevant.
func (c *Client) relevance(w wireSource) float64 {
	score := w.Distance
	if score == nil {
		score = w.Similarity
	}
	if score == nil {
		return 0
	}
	if c.convention == ConventionSimilarity {
		return *score
	}
	return 1 - *score
}

// detail pulls the "detail" member out of an error body; the raw body is used otherwise.
func detail(body []byte) string {
	var e struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err != nil || len(e.Detail) == 0 {
		return string(body)
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, e.Detail); err != nil {
		return string(e.Detail)
	}
	return compact.String()
}
