package provider

import (
	"fmt"

	"github.com/mohammad-safakhou/omegarag/config"
	"github.com/mohammad-safakhou/omegarag/provider/anthropic"
	"github.com/mohammad-safakhou/omegarag/provider/llm"
	openai_provider "github.com/mohammad-safakhou/omegarag/provider/openai"
	"go.uber.org/zap"
)

// Client represents different LLM providers
type Client string

const (
	Anthropic Client = "anthropic"
	OpenAI    Client = "openai"
)

// NewProvider creates the completion client named by cfg.Default. A missing API key is not an
// error here; the returned client reports llm.ErrNotConfigured from Ready.
func NewProvider(cfg config.ProvidersConfig, logger *zap.Logger) (llm.Completer, error) {
	switch Client(cfg.Default) {
	case Anthropic, "":
		return anthropic.New(cfg.Anthropic, logger), nil
	case OpenAI:
		return openai_provider.NewOpenAIClient(cfg.OpenAI, logger, nil), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Default)
	}
}
