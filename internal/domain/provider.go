package domain

// LlmMessage is one turn in a completion request.
type LlmMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// LlmRequest is the Provider Registry's uniform completion request shape
// (SPEC_FULL.md §4.3), identical across every adapter.
type LlmRequest struct {
	Messages          []LlmMessage `json:"messages"`
	Model             string       `json:"model,omitempty"`
	Temperature       *float64     `json:"temperature,omitempty"`
	MaxTokens         int          `json:"maxTokens,omitempty"`
	StopSequences     []string     `json:"stopSequences,omitempty"`
	PreferredProvider string       `json:"preferredProvider,omitempty"`
	// Tokens is how many rate-limit tokens this call should consume; 0 defaults to 1.
	Tokens int `json:"-"`
}

// LlmUsage reports token accounting for one completion.
type LlmUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// LlmResponse is the Provider Registry's uniform completion response shape.
type LlmResponse struct {
	Content      string   `json:"content"`
	Model        string   `json:"model"`
	Usage        LlmUsage `json:"usage"`
	FinishReason string   `json:"finishReason"`
	Provider     string   `json:"provider"`
	LatencyMs    int64    `json:"latencyMs"`
}

// BreakerState is the circuit breaker's externally visible state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// ProviderStatus is the Provider Registry's status surface for one provider
// (SPEC_FULL.md §4.3 "Provider status surface").
type ProviderStatus struct {
	Name                string       `json:"name"`
	AdapterInitialized  bool         `json:"adapterInitialized"`
	BreakerState        BreakerState `json:"breakerState"`
	FailureCount        int          `json:"failureCount"`
	SuccessCount        int          `json:"successCount"`
	TokensAvailable     float64      `json:"tokensAvailable"`
	LastError           string       `json:"lastError,omitempty"`
}
