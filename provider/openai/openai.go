package openai_provider

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
	"github.com/mohammad-safakhou/omegarag/models"
	"github.com/mohammad-safakhou/omegarag/provider/llm"
	"go.uber.org/zap"
)

const providerName = "openai"

// client implements llm.Completer using OpenAI's chat completions API
type client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *httpclient.Client
	logger     *zap.Logger
}

// request represents a request to the OpenAI API
type request struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// response represents a response from the OpenAI API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient creates a new OpenAI client. hc may be nil.
func NewOpenAIClient(cfg config.OpenAIConfig, logger *zap.Logger, hc *http.Client) *client {
	c := &client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: httpclient.New(cfg.Timeout),
		logger:     logging.OrNop(logger).Named(providerName),
	}
	if hc != nil {
		c.httpClient = httpclient.Wrap(hc)
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.openai.com"
	}
	return c
}

func (c *client) Model() string { return c.model }

func (c *client) Ready() error {
	if c.apiKey == "" {
		return llm.ErrNotConfigured
	}
	return nil
}

// Complete sends the system prompt as the first chat message followed by the conversation.
func (c *client) Complete(ctx context.Context, req llm.Request) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}
	if err := llm.ValidateMessages(req.Messages); err != nil {
		return "", err
	}

	messages := make([]llm.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, llm.Message{Role: models.RoleSystem, Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body := request{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   c.maxTokens,
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	start := time.Now()
	var resp response
	if err := c.httpClient.DoJSON(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", headers, body, &resp); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return "", &llm.APIError{Provider: providerName, Status: se.Code, Message: errorMessage(se.Body)}
		}
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	c.logger.Debug("completion finished",
		zap.String("model", c.model),
		zap.Int("messages", len(messages)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("latency", time.Since(start)))

	if len(resp.Choices) == 0 {
		return "", llm.ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(body)
}
