package provider

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/basegraph-labs/orchestrator/internal/domain"
)

// BreakerSettings configures one provider's circuit breaker
// (SPEC_FULL.md §4.3): closed -> open after FailureThreshold consecutive
// failures, open -> half-open after Cooldown, half-open -> closed after
// SuccessThreshold consecutive successes, half-open -> open on any failure.
type BreakerSettings struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	Cooldown         time.Duration
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = 2
	}
	if s.Cooldown == 0 {
		s.Cooldown = 60 * time.Second
	}
	return s
}

// Breaker wraps gobreaker with the naming and state mapping the registry's
// status surface expects.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[domain.LlmResponse]
}

// NewBreaker constructs a per-provider circuit breaker. MaxRequests is set
// to SuccessThreshold, so half-open admits up to that many requests and
// closes once that many succeed in a row, falling back to open on the first
// failure. Requests beyond that count are rejected with CircuitOpen while
// half-open; they are not queued or serialized. onStateChange, if non-nil, is
// invoked whenever the breaker transitions (used to publish
// provider.circuit.opened/closed).
func NewBreaker(name string, settings BreakerSettings, onStateChange func(from, to gobreaker.State)) *Breaker {
	settings = settings.withDefaults()
	cb := gobreaker.NewCircuitBreaker[domain.LlmResponse](gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.SuccessThreshold,
		Interval:    0,
		Timeout:     settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if onStateChange != nil {
				onStateChange(from, to)
			}
		},
	})
	return &Breaker{name: name, cb: cb}
}

// Execute runs fn through the breaker. When the breaker is open, it
// fast-fails with CircuitOpen without invoking fn.
func (b *Breaker) Execute(fn func() (domain.LlmResponse, error)) (domain.LlmResponse, error) {
	resp, err := b.cb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return domain.LlmResponse{}, domain.NewError(domain.ErrCircuitOpen, "provider "+b.name+" circuit is open", err)
	}
	return resp, err
}

// State reports the breaker's current externally-visible state.
func (b *Breaker) State() domain.BreakerState {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return domain.BreakerOpen
	case gobreaker.StateHalfOpen:
		return domain.BreakerHalfOpen
	default:
		return domain.BreakerClosed
	}
}

// Counts exposes the breaker's consecutive failure/success counters for the
// status surface.
func (b *Breaker) Counts() (failures, successes int) {
	c := b.cb.Counts()
	return int(c.ConsecutiveFailures), int(c.ConsecutiveSuccesses)
}
