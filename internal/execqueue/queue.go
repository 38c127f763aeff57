// Package execqueue implements the Execution Queue: an in-memory,
// mutex-guarded FIFO of pending Plans (SPEC_FULL.md §4.1/§5). It is
// explicitly single-process — no external broker backs it, and callers
// never need to lock since every operation is internally synchronized.
package execqueue

import (
	"context"
	"sync"

	"github.com/basegraph-labs/orchestrator/common/id"
	"github.com/basegraph-labs/orchestrator/internal/domain"
	"github.com/basegraph-labs/orchestrator/internal/eventbus"
)

// Queue is the Execution Queue contract. Every returned Plan is a deep
// clone; callers can mutate what they get back without affecting the
// queue's internal state.
type Queue interface {
	Enqueue(ctx context.Context, plan domain.Plan)
	Dequeue(ctx context.Context) (domain.Plan, bool)
	Peek() (domain.Plan, bool)
	Size() int
	FindByPlanId(planID string) (domain.Plan, bool)
	RemoveByPlanId(ctx context.Context, planID string) bool
	Clear(ctx context.Context)
}

type queue struct {
	mu    sync.Mutex
	plans []domain.Plan
	bus   eventbus.Bus
}

// New constructs an Execution Queue that publishes lifecycle events on bus.
func New(bus eventbus.Bus) Queue {
	return &queue{bus: bus}
}

func (q *queue) Enqueue(ctx context.Context, plan domain.Plan) {
	clone := plan.Clone()
	q.mu.Lock()
	q.plans = append(q.plans, clone)
	q.mu.Unlock()

	q.publish(ctx, domain.EventPlanEnqueued, planEnqueuedPayload{PlanID: plan.PlanID})
}

func (q *queue) Dequeue(ctx context.Context) (domain.Plan, bool) {
	q.mu.Lock()
	if len(q.plans) == 0 {
		q.mu.Unlock()
		return domain.Plan{}, false
	}
	head := q.plans[0]
	q.plans = q.plans[1:]
	q.mu.Unlock()

	q.publish(ctx, domain.EventPlanDequeued, planDequeuedPayload{PlanID: head.PlanID})
	return head.Clone(), true
}

func (q *queue) Peek() (domain.Plan, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.plans) == 0 {
		return domain.Plan{}, false
	}
	return q.plans[0].Clone(), true
}

func (q *queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.plans)
}

func (q *queue) FindByPlanId(planID string) (domain.Plan, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.plans {
		if p.PlanID == planID {
			return p.Clone(), true
		}
	}
	return domain.Plan{}, false
}

func (q *queue) RemoveByPlanId(ctx context.Context, planID string) bool {
	q.mu.Lock()
	idx := -1
	for i, p := range q.plans {
		if p.PlanID == planID {
			idx = i
			break
		}
	}
	if idx == -1 {
		q.mu.Unlock()
		return false
	}
	q.plans = append(q.plans[:idx], q.plans[idx+1:]...)
	q.mu.Unlock()

	q.publish(ctx, domain.EventPlanRemoved, planRemovedPayload{PlanID: planID})
	return true
}

func (q *queue) Clear(ctx context.Context) {
	q.mu.Lock()
	q.plans = nil
	q.mu.Unlock()

	q.publish(ctx, domain.EventQueueCleared, queueClearedPayload{})
}

func (q *queue) publish(ctx context.Context, t domain.EventType, payload any) {
	if q.bus == nil {
		return
	}
	evt, err := domain.NewEvent(id.NewEventID(), t, payload)
	if err != nil {
		return
	}
	q.bus.Publish(ctx, evt)
}

type planEnqueuedPayload struct {
	PlanID string `json:"planId"`
}

type planDequeuedPayload struct {
	PlanID string `json:"planId"`
}

type planRemovedPayload struct {
	PlanID string `json:"planId"`
}

type queueClearedPayload struct{}
