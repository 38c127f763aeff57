package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Pool is a bounded goroutine pool for dispatching ready tasks in
// mode=parallel, grounded on the sibling pack's ants wrapper: fixed
// capacity, idle-worker expiry, and a panic handler that logs instead of
// crashing the coordinator (SPEC_FULL.md §4.2).
type Pool struct {
	pool *ants.Pool
}

// NewPool builds a pool of the given capacity. capacity<=0 defaults to
// runtime.NumCPU() capped at 8, per SPEC_FULL.md §4.2.
func NewPool(capacity int) (*Pool, error) {
	if capacity <= 0 {
		capacity = defaultParallelism()
	}
	p, err := ants.NewPool(capacity,
		ants.WithExpiryDuration(30*time.Second),
		ants.WithPanicHandler(func(r any) {
			slog.Error("panic recovered in workflow worker pool", "panic", r)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create workflow worker pool: %w", err)
	}
	return &Pool{pool: p}, nil
}

func defaultParallelism() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Submit schedules task to run on the pool, blocking until a worker is free.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := p.pool.Submit(task); err != nil {
		return fmt.Errorf("submit to workflow worker pool: %w", err)
	}
	return nil
}

func (p *Pool) Release() {
	p.pool.Release()
}
