package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/basegraph-labs/orchestrator/internal/domain"
)

// OpenAIAdapter talks to the OpenAI chat completions API. Unlike the
// tool-calling agent client this is adapted from, it never sends a Tools
// list: the Provider Registry's contract is a plain text completion.
type OpenAIAdapter struct {
	name    string
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIAdapter constructs an adapter bound to cfg. The client itself
// performs no network I/O until Execute/Test is called.
func NewOpenAIAdapter(name string, cfg AdapterConfig) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "openai adapter requires an API key", nil)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIAdapter{name: name, client: openai.NewClient(opts...), model: model, timeout: timeout}, nil
}

func (a *OpenAIAdapter) Name() string { return a.name }

func (a *OpenAIAdapter) Initialize(ctx context.Context) error { return nil }

func (a *OpenAIAdapter) Execute(ctx context.Context, req domain.LlmRequest) (domain.LlmResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	model := a.model
	if req.Model != "" {
		model = req.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}

	start := time.Now()
	resp, err := a.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return domain.LlmResponse{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return domain.LlmResponse{}, domain.NewError(domain.ErrProviderError, "openai returned no choices", nil)
	}

	choice := resp.Choices[0]
	return domain.LlmResponse{
		Content:      choice.Message.Content,
		Model:        string(resp.Model),
		FinishReason: string(choice.FinishReason),
		Provider:     a.name,
		LatencyMs:    latency.Milliseconds(),
		Usage: domain.LlmUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (a *OpenAIAdapter) Test(ctx context.Context) error {
	_, err := a.Execute(ctx, domain.LlmRequest{
		Messages:  []domain.LlmMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

func toOpenAIMessages(msgs []domain.LlmMessage) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			result = append(result, openai.SystemMessage(m.Content))
		case "assistant":
			result = append(result, openai.AssistantMessage(m.Content))
		default:
			result = append(result, openai.UserMessage(m.Content))
		}
	}
	return result
}

// classifyOpenAIError maps an openai-go error into the shared error
// taxonomy so the registry's failover/retry logic never has to know about
// this adapter's concrete error type.
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.ErrTimeout, "openai request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewError(domain.ErrCancelled, "openai request cancelled", err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return domain.NewError(domain.ErrTransientServer, "openai rate limited", err)
		case apiErr.StatusCode >= 500:
			return domain.NewError(domain.ErrTransientServer, "openai server error", err)
		default:
			return domain.NewError(domain.ErrProviderError, fmt.Sprintf("openai error (status %d)", apiErr.StatusCode), err)
		}
	}
	return domain.NewError(domain.ErrTransientServer, "openai network error", err)
}
