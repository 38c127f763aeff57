// Package provider implements the Provider Registry: a map of named LLM
// adapters behind a uniform request/response contract, a failover chain, a
// per-provider token bucket, and a per-provider circuit breaker
// (SPEC_FULL.md §4.3).
package provider

import (
	"context"

	"github.com/basegraph-labs/orchestrator/internal/domain"
)

// Adapter is the capability set every provider variant implements.
// Initialize validates credentials and prepares the underlying client;
// Execute performs one completion call; Test issues a minimal request to
// confirm connectivity; Name returns the name the adapter was registered
// under. Adapters expose no status of their own: readiness, breaker and
// rate-limit state are tracked by the registry.
type Adapter interface {
	Initialize(ctx context.Context) error
	Execute(ctx context.Context, req domain.LlmRequest) (domain.LlmResponse, error)
	Test(ctx context.Context) error
	Name() string
}
