package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/omegarag/config"
	"github.com/mohammad-safakhou/omegarag/internal/httpclient"
	"github.com/mohammad-safakhou/omegarag/internal/logging"
	"github.com/mohammad-safakhou/omegarag/provider/llm"
	"go.uber.org/zap"
)

const providerName = "anthropic"

// Client calls the Anthropic Messages API. Model and output budget are fixed at construction.
type Client struct {
	apiKey    string
	baseURL   string
	model     string
	version   string
	maxTokens int
	http      *httpclient.Client
	logger    *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = httpclient.Wrap(hc) }
}

func New(cfg config.AnthropicConfig, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:    strings.TrimSpace(cfg.APIKey),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		version:   cfg.Version,
		maxTokens: cfg.MaxTokens,
		http:      httpclient.New(cfg.Timeout),
		logger:    logging.OrNop(logger).Named(providerName),
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.anthropic.com"
	}
	if c.version == "" {
		c.version = "2023-06-01"
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 1024
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Model() string { return c.model }

func (c *Client) Ready() error {
	if c.apiKey == "" {
		return llm.ErrNotConfigured
	}
	return nil
}

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}
	if err := llm.ValidateMessages(req.Messages); err != nil {
		return "", err
	}

	body := messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      req.System,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": c.version,
	}

	start := time.Now()
	var resp messagesResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/v1/messages", headers, body, &resp); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return "", &llm.APIError{Provider: providerName, Status: se.Code, Message: errorMessage(se.Body)}
		}
		return "", fmt.Errorf("anthropic messages call: %w", err)
	}
	c.logger.Debug("completion finished",
		zap.String("model", c.model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.String("stop_reason", resp.StopReason),
		zap.Duration("latency", time.Since(start)))

	if len(resp.Content) == 0 {
		return "", llm.ErrEmptyCompletion
	}
	return resp.Content[0].Text, nil
}

// errorMessage extracts error.message from an Anthropic error body, falling back to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(body)
}
