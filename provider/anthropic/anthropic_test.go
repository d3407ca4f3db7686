package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mohammad-safakhou/omegarag/config"
	"github.com/mohammad-safakhou/omegarag/models"
	"github.com/mohammad-safakhou/omegarag/provider/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL, key string) config.AnthropicConfig {
	return config.AnthropicConfig{
		APIKey:    key,
		BaseURL:   baseURL,
		Model:     "claude-3-haiku-20240307",
		Version:   "2023-06-01",
		MaxTokens: 1024,
	}
}

func question(text string) llm.Request {
	return llm.Request{
		System:      "be brief",
		Messages:    []llm.Message{{Role: models.RoleUser, Content: text}},
		Temperature: 0.7,
	}
}

func TestCompleteSendsMessagesRequest(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"**EPA** helps [1]."}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL, "sk-test"), nil, WithHTTPClient(srv.Client()))
	answer, err := c.Complete(context.Background(), question("EPA dosage?"))
	require.NoError(t, err)

	assert.Equal(t, "**EPA** helps [1].", answer)
	assert.Equal(t, "claude-3-haiku-20240307", got.Model)
	assert.Equal(t, 1024, got.MaxTokens)
	assert.Equal(t, "be brief", got.System)
	assert.Equal(t, 0.7, got.Temperature)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, models.RoleUser, got.Messages[0].Role)
}

func TestCompleteMapsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL, "sk-test"), nil, WithHTTPClient(srv.Client()))
	_, err := c.Complete(context.Background(), question("hi"))

	var apiErr *llm.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "slow down", apiErr.Message)
	assert.Equal(t, "anthropic", apiErr.Provider)
}

func TestCompleteWithoutKeyMakesNoCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL, "  "), nil, WithHTTPClient(srv.Client()))
	assert.ErrorIs(t, c.Ready(), llm.ErrNotConfigured)
	_, err := c.Complete(context.Background(), question("hi"))
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestCompleteRequiresTrailingUserMessage(t *testing.T) {
	c := New(testConfig("http://127.0.0.1:1", "sk-test"), nil)
	req := llm.Request{Messages: []llm.Message{
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, Content: "a"},
	}}
	_, err := c.Complete(context.Background(), req)
	assert.ErrorIs(t, err, llm.ErrInvalidConversation)

	_, err = c.Complete(context.Background(), llm.Request{})
	assert.ErrorIs(t, err, llm.ErrInvalidConversation)
}

func TestCompleteEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL, "sk-test"), nil, WithHTTPClient(srv.Client()))
	_, err := c.Complete(context.Background(), question("hi"))
	assert.ErrorIs(t, err, llm.ErrEmptyCompletion)
}
