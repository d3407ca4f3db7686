package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/omegarag/internal/rag"
	"github.com/mohammad-safakhou/omegarag/models"
	"go.uber.org/zap"
)

const (
	defaultSearchTopK  = 5
	defaultSearchAlpha = 0.5
)

// SearchHandler proxies a single query to the search service for direct study lookups.
type SearchHandler struct {
	Searcher   rag.Searcher
	CORSOrigin string
	Logger     *zap.Logger
}

func (h *SearchHandler) Register(g *echo.Group) {
	g.POST("/search", h.search)
	g.OPTIONS("/search", h.preflight)
}

type searchRequestBody struct {
	Query      string      `json:"query"`
	SearchType string      `json:"search_type"`
	TopK       json.Number `json:"top_k"`
	Alpha      *float64    `json:"alpha"`
	QueryMode  string      `json:"queryMode"`
	History    []string    `json:"history"`
}

func (h *SearchHandler) search(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidBody).SetInternal(err)
	}
	if err := ValidateSearchBody(raw); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidBody).SetInternal(err)
	}
	var body searchRequestBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidBody).SetInternal(err)
	}
	query := strings.TrimSpace(body.Query)
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, msgQueryRequired)
	}

	req := models.SearchRequest{SearchType: models.SearchSemantic, TopK: defaultSearchTopK}
	if body.SearchType != "" {
		req.SearchType = models.SearchType(body.SearchType)
	}
	if body.TopK != "" {
		n, err := models.WholeNumber(body.TopK)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, msgInvalidBody).SetInternal(err)
		}
		req.TopK = int(n)
	}
	if req.SearchType == models.SearchHybrid {
		alpha := defaultSearchAlpha
		if body.Alpha != nil {
			alpha = *body.Alpha
		}
		req.BlendWeight = &alpha
	}

	mode := models.QueryModeLast
	if body.QueryMode != "" {
		mode = models.QueryMode(body.QueryMode)
	}
	history := make([]models.ChatMessage, 0, len(body.History))
	for _, q := range body.History {
		history = append(history, models.ChatMessage{Role: models.RoleUser, Content: q})
	}
	req.Queries = rag.DeriveQueries(history, query, mode)

	res, err := h.Searcher.Search(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, msgInternal).SetInternal(err)
	}
	if res.Results == nil {
		res.Results = []models.Source{}
	}
	if h.Logger != nil {
		h.Logger.Debug("search proxied", zap.Int("queries", len(req.Queries)), zap.Int("results", len(res.Results)))
	}

	c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
	return c.JSON(http.StatusOK, res)
}

func (h *SearchHandler) preflight(c echo.Context) error {
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderAccessControlAllowOrigin, h.CORSOrigin)
	hdr.Set(echo.HeaderAccessControlAllowMethods, "POST, OPTIONS")
	hdr.Set(echo.HeaderAccessControlAllowHeaders, "Content-Type")
	hdr.Set(echo.HeaderAccessControlMaxAge, "86400")
	return c.NoContent(http.StatusOK)
}
