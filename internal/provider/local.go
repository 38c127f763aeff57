package provider

import (
	"context"

	"github.com/basegraph-labs/orchestrator/internal/domain"
)

// LocalAdapter talks to an OpenAI-wire-compatible endpoint (llama.cpp,
// Ollama's OpenAI shim, vLLM, ...) via a configurable base URL. It reuses
// the OpenAI client entirely; the only distinction is that a base URL is
// mandatory and an API key is optional (self-hosted endpoints commonly
// accept any bearer value or none at all).
type LocalAdapter struct {
	*OpenAIAdapter
}

func NewLocalAdapter(name string, cfg AdapterConfig) (*LocalAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "local adapter requires a baseUrl", nil)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "local"
	}
	inner, err := NewOpenAIAdapter(name, cfg)
	if err != nil {
		return nil, err
	}
	return &LocalAdapter{OpenAIAdapter: inner}, nil
}

func (a *LocalAdapter) Test(ctx context.Context) error {
	_, err := a.Execute(ctx, domain.LlmRequest{
		Messages:  []domain.LlmMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}
