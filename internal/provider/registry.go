package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/basegraph-labs/orchestrator/common/id"
	"github.com/basegraph-labs/orchestrator/internal/domain"
	"github.com/basegraph-labs/orchestrator/internal/eventbus"
)

// entry bundles one provider's adapter with its rate limiter and breaker.
type entry struct {
	name        string
	adapter     Adapter
	bucket      *TokenBucket
	breaker     *Breaker
	maxRetries  int
	retryDelay  time.Duration
	mu          sync.Mutex
	lastError   string
	initialized bool
}

// Registry is the Provider Registry: a named adapter map plus an active
// provider designation, fronted by the failover/retry/rate-limit/breaker
// machinery described in SPEC_FULL.md §4.3.
type Registry struct {
	mu             sync.RWMutex
	order          []string
	entries        map[string]*entry
	activeProvider string
	bus            eventbus.Bus
}

// NewRegistry constructs an empty registry. Register providers with
// RegisterProvider before calling Complete.
func NewRegistry(bus eventbus.Bus) *Registry {
	return &Registry{entries: make(map[string]*entry), bus: bus}
}

// RegisterOptions configures one provider's registration.
type RegisterOptions struct {
	Adapter       Adapter
	MaxTokens     float64
	RefillRate    float64
	RefillPeriod  time.Duration
	Breaker       BreakerSettings
	MaxRetries    int
	RetryDelay    time.Duration
}

// RegisterProvider adds a provider to the registry in registration order.
// The first registered provider becomes activeProvider unless SetActive is
// called afterward.
func (r *Registry) RegisterProvider(name string, opts RegisterOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()

	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 60
	}
	refillRate := opts.RefillRate
	if refillRate <= 0 {
		refillRate = maxTokens
	}

	e := &entry{
		name:       name,
		adapter:    opts.Adapter,
		bucket:     NewTokenBucket(maxTokens, refillRate, opts.RefillPeriod),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
	e.breaker = NewBreaker(name, opts.Breaker, func(from, to gobreaker.State) {
		r.publishBreakerTransition(name, to)
	})
	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = e
	if r.activeProvider == "" {
		r.activeProvider = name
	}
}

// SetActive designates the default provider used when a request does not
// specify preferredProvider.
func (r *Registry) SetActive(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeProvider = name
}

// candidateOrder builds the failover chain for one request: preferred (if
// set and known), then active, then the remaining registered providers in
// registration order, each appearing at most once.
func (r *Registry) candidateOrder(preferred string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.order))
	var chain []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		if _, ok := r.entries[name]; !ok {
			return
		}
		seen[name] = true
		chain = append(chain, name)
	}
	add(preferred)
	add(r.activeProvider)
	for _, name := range r.order {
		add(name)
	}
	return chain
}

// Complete runs the failover chain described in SPEC_FULL.md §4.3: try
// preferredProvider, then activeProvider, then the remaining providers in
// registration order, skipping any whose breaker is open, falling through
// on retryable errors and stopping on the first success or first
// non-retryable error.
func (r *Registry) Complete(ctx context.Context, req domain.LlmRequest) (domain.LlmResponse, error) {
	chain := r.candidateOrder(req.PreferredProvider)
	if len(chain) == 0 {
		return domain.LlmResponse{}, domain.NewError(domain.ErrNoProvidersAvailable, "no providers registered", nil)
	}

	var lastErr error
	for i, name := range chain {
		r.mu.RLock()
		e := r.entries[name]
		r.mu.RUnlock()
		if e == nil {
			continue
		}

		if e.breaker.State() == domain.BreakerOpen {
			lastErr = domain.NewError(domain.ErrCircuitOpen, "provider "+name+" circuit is open", nil)
			r.publishFailover(ctx, name, lastErr, i < len(chain)-1)
			continue
		}

		resp, err := r.executeWithRetry(ctx, e, req)
		if err == nil {
			r.publishResponse(ctx, resp)
			return resp, nil
		}

		e.mu.Lock()
		e.lastError = err.Error()
		e.mu.Unlock()

		lastErr = err
		r.publishFailover(ctx, name, err, i < len(chain)-1)

		if !domain.KindOf(err).Retryable() {
			return domain.LlmResponse{}, err
		}
	}
	return domain.LlmResponse{}, lastErr
}

// executeWithRetry runs one provider's token-bucket gate, breaker, and
// bounded retry loop (SPEC_FULL.md §4.3 retry policy:
// retryDelayMs * 2^(attempt-1), retryable errors only).
func (r *Registry) executeWithRetry(ctx context.Context, e *entry, req domain.LlmRequest) (domain.LlmResponse, error) {
	tokens := float64(req.Tokens)
	if tokens <= 0 {
		tokens = 1
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries+1; attempt++ {
		if err := e.bucket.TryConsume(ctx, tokens, 5*time.Second); err != nil {
			r.publishRateLimitExceeded(ctx, e.name)
			return domain.LlmResponse{}, err
		}
		r.publishRequest(ctx, e.name)

		resp, err := e.breaker.Execute(func() (domain.LlmResponse, error) {
			return e.adapter.Execute(ctx, req)
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !domain.KindOf(err).Retryable() || attempt > e.maxRetries {
			return domain.LlmResponse{}, err
		}

		delay := e.retryDelay * time.Duration(1<<uint(attempt-1))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.LlmResponse{}, domain.NewError(domain.ErrCancelled, "cancelled during retry backoff", ctx.Err())
		case <-timer.C:
		}
	}
	return domain.LlmResponse{}, lastErr
}

// Status reports one provider's externally visible health.
func (r *Registry) Status(name string) (domain.ProviderStatus, error) {
	r.mu.RLock()
	e := r.entries[name]
	r.mu.RUnlock()
	if e == nil {
		return domain.ProviderStatus{}, domain.NewError(domain.ErrNotFound, "unknown provider "+name, nil)
	}
	failures, successes := e.breaker.Counts()
	e.mu.Lock()
	lastErr := e.lastError
	e.mu.Unlock()
	return domain.ProviderStatus{
		Name:               name,
		AdapterInitialized: e.initialized,
		BreakerState:       e.breaker.State(),
		FailureCount:       failures,
		SuccessCount:       successes,
		TokensAvailable:    e.bucket.Available(),
		LastError:          lastErr,
	}, nil
}

// Initialize calls Initialize on every registered adapter, continuing past
// individual failures so a single misconfigured provider does not prevent
// the others from becoming available.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, e := range entries {
		if err := e.adapter.Initialize(ctx); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("initialize provider %s: %w", e.name, err)
			}
			continue
		}
		e.mu.Lock()
		e.initialized = true
		e.mu.Unlock()
	}
	return firstErr
}

func (r *Registry) publishRequest(ctx context.Context, provider string) {
	r.publish(ctx, domain.EventProviderRequest, map[string]string{"provider": provider})
}

func (r *Registry) publishResponse(ctx context.Context, resp domain.LlmResponse) {
	r.publish(ctx, domain.EventProviderResponse, map[string]any{"provider": resp.Provider, "latencyMs": resp.LatencyMs})
}

func (r *Registry) publishRateLimitExceeded(ctx context.Context, provider string) {
	r.publish(ctx, domain.EventProviderRateLimitExceeded, map[string]string{"provider": provider})
}

func (r *Registry) publishFailover(ctx context.Context, provider string, err error, hasNext bool) {
	r.publish(ctx, domain.EventProviderError, map[string]any{"provider": provider, "error": err.Error()})
	if hasNext {
		r.publish(ctx, domain.EventProviderFailover, map[string]string{"from": provider})
	}
}

func (r *Registry) publishBreakerTransition(provider string, to gobreaker.State) {
	var t domain.EventType
	switch to {
	case gobreaker.StateOpen:
		t = domain.EventProviderCircuitOpened
	case gobreaker.StateClosed:
		t = domain.EventProviderCircuitClosed
	default:
		return
	}
	r.publish(context.Background(), t, map[string]string{"provider": provider})
}

func (r *Registry) publish(ctx context.Context, t domain.EventType, payload any) {
	if r.bus == nil {
		return
	}
	evt, err := domain.NewEvent(id.NewEventID(), t, payload)
	if err != nil {
		return
	}
	r.bus.Publish(ctx, evt)
}
