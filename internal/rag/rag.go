// Package rag sequences retrieval and answer synthesis for one chat turn.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/omegarag/config"
	"github.com/mohammad-safakhou/omegarag/internal/helpers"
	"github.com/mohammad-safakhou/omegarag/internal/logging"
	"github.com/mohammad-safakhou/omegarag/models"
	"github.com/mohammad-safakhou/omegarag/provider/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrEmptyMessage = errors.New("message is required")
	// ErrInvalidParams wraps search parameters that fall outside the supported ranges.
	ErrInvalidParams = errors.New("invalid search parameters")
)

const maxTopK = 20

// Searcher retrieves studies for a set of queries.
type Searcher interface {
	Search(ctx context.Context, req models.SearchRequest) (models.SearchResult, error)
}

type ChatRequest struct {
	Message string
	History []models.ChatMessage
	Params  models.SearchParams
}

const tracerName = "omegarag/internal/rag"

type Orchestrator struct {
	searcher  Searcher
	completer llm.Completer
	cfg       config.ChatConfig
	system    string
	logger    *zap.Logger
	tracer    trace.Tracer
}

func New(searcher Searcher, completer llm.Completer, cfg config.ChatConfig, logger *zap.Logger) *Orchestrator {
	if strings.TrimSpace(cfg.NoResultsMessage) == "" {
		cfg.NoResultsMessage = config.DefaultNoResultsMessage
	}
	return &Orchestrator{
		searcher:  searcher,
		completer: completer,
		cfg:       cfg,
		system:    SystemPrompt(cfg.AnswerLanguage),
		logger:    logging.OrNop(logger).Named("rag"),
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
	}
}

// Answer runs one chat turn: validate, check the credential, retrieve, then synthesize.
// When retrieval finds nothing the fixed no-results answer is returned and the completer is not called.
func (o *Orchestrator) Answer(ctx context.Context, req ChatRequest) (models.ChatResponse, error) {
	ctx, span := o.tracer.Start(ctx, "rag.answer")
	defer span.End()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		span.SetStatus(codes.Error, "message required")
		return models.ChatResponse{}, ErrEmptyMessage
	}
	if err := o.completer.Ready(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.ChatResponse{}, err
	}

	search, mode, err := ResolveParams(req.Params, o.cfg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return models.ChatResponse{}, err
	}
	search.Queries = DeriveQueries(req.History, message, mode)
	span.SetAttributes(
		attribute.String("search_type", string(search.SearchType)),
		attribute.String("query_mode", string(mode)),
		attribute.Int("top_k", search.TopK),
		attribute.Int("history", len(req.History)),
	)

	result, err := o.retrieve(ctx, search, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.ChatResponse{}, fmt.Errorf("search studies: %w", err)
	}
	span.SetAttributes(attribute.Int("sources", len(result.Results)))

	if len(result.Results) == 0 {
		span.SetAttributes(attribute.Bool("no_results", true))
		return models.ChatResponse{Answer: o.cfg.NoResultsMessage, Sources: []models.Source{}}, nil
	}

	answer, err := o.synthesize(ctx, req.History, result.Results, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.ChatResponse{}, fmt.Errorf("synthesize answer: %w", err)
	}
	return models.ChatResponse{Answer: answer, Sources: result.Results}, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, search models.SearchRequest, mode models.QueryMode) (models.SearchResult, error) {
	ctx, span := o.tracer.Start(ctx, "rag.search")
	defer span.End()
	span.SetAttributes(attribute.Int("queries", len(search.Queries)))

	start := time.Now()
	result, err := o.searcher.Search(ctx, search)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.SearchResult{}, err
	}
	span.SetAttributes(attribute.Int("results", len(result.Results)), attribute.Int("total", result.TotalFound))
	o.logger.Info("retrieval finished",
		zap.Int("queries", len(search.Queries)),
		zap.String("search_type", string(search.SearchType)),
		zap.String("query_mode", string(mode)),
		zap.Int("top_k", search.TopK),
		zap.Int("results", len(result.Results)),
		zap.Duration("latency", time.Since(start)))
	return result, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, history []models.ChatMessage, sources []models.Source, message string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "rag.complete")
	defer span.End()

	completion := llm.Request{
		System:      o.system,
		Messages:    BuildMessages(history, FormatContext(sources), message),
		Temperature: o.cfg.Temperature,
	}
	span.SetAttributes(attribute.String("model", o.completer.Model()), attribute.Int("messages", len(completion.Messages)))

	start := time.Now()
	answer, err := o.completer.Complete(ctx, completion)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	cited := helpers.CitedIndices(answer, len(sources))
	span.SetAttributes(attribute.Int("cited", len(cited)))
	o.logger.Info("answer synthesized",
		zap.String("model", o.completer.Model()),
		zap.Int("sources", len(sources)),
		zap.Ints("cited", cited),
		zap.Duration("latency", time.Since(start)))
	return answer, nil
}

// ResolveParams fills omitted search parameters from the configured defaults and checks ranges.
func ResolveParams(p models.SearchParams, cfg config.ChatConfig) (models.SearchRequest, models.QueryMode, error) {
	st := p.SearchType
	if st == "" {
		st = models.SearchType(cfg.DefaultSearchType)
	}
	searchType, err := models.ParseSearchType(string(st))
	if err != nil {
		return models.SearchRequest{}, "", fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	qm := p.QueryMode
	if qm == "" {
		qm = models.QueryMode(cfg.DefaultQueryMode)
	}
	mode, err := models.ParseQueryMode(string(qm))
	if err != nil {
		return models.SearchRequest{}, "", fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	topK := p.TopK
	if topK == 0 {
		topK = cfg.DefaultTopK
	}
	if topK < 1 || topK > maxTopK {
		return models.SearchRequest{}, "", fmt.Errorf("%w: top_k must be within 1..%d, got %d", ErrInvalidParams, maxTopK, topK)
	}

	req := models.SearchRequest{SearchType: searchType, TopK: topK}
	if searchType == models.SearchHybrid {
		alpha := cfg.DefaultAlpha
		if p.Alpha != nil {
			alpha = *p.Alpha
		}
		if alpha < 0 || alpha > 1 {
			return models.SearchRequest{}, "", fmt.Errorf("%w: alpha must be within 0..1, got %v", ErrInvalidParams, alpha)
		}
		req.BlendWeight = &alpha
	}
	return req, mode, nil
}
