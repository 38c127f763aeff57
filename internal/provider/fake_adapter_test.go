package provider_test

import (
	"context"
	"sync/atomic"

	"github.com/basegraph-labs/orchestrator/internal/domain"
)

// fakeAdapter is a scripted Adapter for exercising the registry's
// failover/retry logic without any network I/O.
type fakeAdapter struct {
	name  string
	calls int32
	// errs is consumed in order, one per Execute call; once exhausted,
	// Execute always succeeds.
	errs []error
}

func (f *fakeAdapter) Name() string                        { return f.name }
func (f *fakeAdapter) Initialize(ctx context.Context) error { return nil }
func (f *fakeAdapter) Test(ctx context.Context) error       { return nil }

func (f *fakeAdapter) Execute(ctx context.Context, req domain.LlmRequest) (domain.LlmResponse, error) {
	n := int(atomic.AddInt32(&f.calls, 1)) - 1
	if n < len(f.errs) && f.errs[n] != nil {
		return domain.LlmResponse{}, f.errs[n]
	}
	return domain.LlmResponse{Content: "ok", Provider: f.name}, nil
}

func (f *fakeAdapter) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}
