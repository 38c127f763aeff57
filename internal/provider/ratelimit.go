package provider

import (
	"context"
	"sync"
	"time"

	"github.com/basegraph-labs/orchestrator/internal/domain"
)

// TokenBucket is a hand-rolled rate limiter matching the exact
// TryConsume(tokens, timeoutMs) polling contract SPEC_FULL.md §4.3
// mandates. golang.org/x/time/rate exposes a blocking WaitN(ctx, n) but no
// way to cap the wait at an explicit per-call timeout while reporting a
// distinct RateLimitTimeout outcome instead of a context error, so it does
// not fit here; see DESIGN.md.
type TokenBucket struct {
	mu              sync.Mutex
	maxTokens       float64
	tokensAvailable float64
	refillRate      float64 // tokens per refillInterval
	refillInterval  time.Duration
	lastRefillAt    time.Time
}

// NewTokenBucket constructs a full bucket of capacity maxTokens, refilling
// refillRate tokens every refillInterval (refillInterval defaults to 1s).
func NewTokenBucket(maxTokens, refillRate float64, refillInterval time.Duration) *TokenBucket {
	if refillInterval <= 0 {
		refillInterval = time.Second
	}
	return &TokenBucket{
		maxTokens:       maxTokens,
		tokensAvailable: maxTokens,
		refillRate:      refillRate,
		refillInterval:  refillInterval,
		lastRefillAt:    time.Now(),
	}
}

const pollSlice = 100 * time.Millisecond

// TryConsume attempts to deduct tokens, refilling first. If insufficient,
// it sleeps in min(pollSlice, time-remaining) increments until either the
// deduction succeeds or timeout elapses, at which point it returns a
// RateLimitTimeout error. The wait is cancel-aware via ctx.
func (b *TokenBucket) TryConsume(ctx context.Context, tokens float64, timeout time.Duration) error {
	if tokens <= 0 {
		tokens = 1
	}
	deadline := time.Now().Add(timeout)
	for {
		if b.tryDeductOnce(tokens) {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domain.NewError(domain.ErrRateLimitTimeout, "token bucket exhausted", nil)
		}
		sleep := pollSlice
		if remaining < sleep {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.NewError(domain.ErrCancelled, "token bucket wait cancelled", ctx.Err())
		case <-timer.C:
		}
	}
}

func (b *TokenBucket) tryDeductOnce(tokens float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokensAvailable < tokens {
		return false
	}
	b.tokensAvailable -= tokens
	return true
}

func (b *TokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefillAt)
	if elapsed <= 0 {
		return
	}
	intervals := elapsed.Seconds() / b.refillInterval.Seconds()
	if intervals <= 0 {
		return
	}
	b.tokensAvailable += intervals * b.refillRate
	if b.tokensAvailable > b.maxTokens {
		b.tokensAvailable = b.maxTokens
	}
	b.lastRefillAt = now
}

// Available reports the current token count after a refill, for the
// provider status surface.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokensAvailable
}
