package provider

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/basegraph-labs/orchestrator/internal/domain"
)

// AnthropicAdapter talks to the Anthropic Messages API. Like OpenAIAdapter
// it is adapted from a tool-calling client into a plain-text completion
// adapter: no tools are ever sent.
type AnthropicAdapter struct {
	name    string
	client  anthropic.Client
	model   string
	timeout time.Duration
}

func NewAnthropicAdapter(name string, cfg AdapterConfig) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "anthropic adapter requires an API key", nil)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5-20250514"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AnthropicAdapter{name: name, client: anthropic.NewClient(opts...), model: model, timeout: timeout}, nil
}

func (a *AnthropicAdapter) Name() string { return a.name }

func (a *AnthropicAdapter) Initialize(ctx context.Context) error { return nil }

func (a *AnthropicAdapter) Execute(ctx context.Context, req domain.LlmRequest) (domain.LlmResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	model := a.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	system, messages := splitSystemMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}

	start := time.Now()
	resp, err := a.client.Messages.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return domain.LlmResponse{}, classifyAnthropicError(err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return domain.LlmResponse{
		Content:      content,
		Model:        string(resp.Model),
		FinishReason: mapAnthropicStopReason(resp.StopReason),
		Provider:     a.name,
		LatencyMs:    latency.Milliseconds(),
		Usage: domain.LlmUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

func (a *AnthropicAdapter) Test(ctx context.Context) error {
	_, err := a.Execute(ctx, domain.LlmRequest{
		Messages:  []domain.LlmMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

func splitSystemMessages(msgs []domain.LlmMessage) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Type: "text", Text: m.Content})
		case "assistant":
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
			})
		default:
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
			})
		}
	}
	return system, messages
}

func mapAnthropicStopReason(reason anthropic.StopReason) string {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return "stop"
	case anthropic.StopReasonMaxTokens:
		return "length"
	default:
		return string(reason)
	}
}

func classifyAnthropicError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.ErrTimeout, "anthropic request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewError(domain.ErrCancelled, "anthropic request cancelled", err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return domain.NewError(domain.ErrTransientServer, "anthropic rate limited", err)
		case apiErr.StatusCode >= 500:
			return domain.NewError(domain.ErrTransientServer, "anthropic server error", err)
		default:
			return domain.NewError(domain.ErrProviderError, "anthropic error", err)
		}
	}
	return domain.NewError(domain.ErrTransientServer, "anthropic network error", err)
}
