package execqueue_test

import (
	"context"

	"github.com/basegraph-labs/orchestrator/internal/domain"
	"github.com/basegraph-labs/orchestrator/internal/eventbus"
	"github.com/basegraph-labs/orchestrator/internal/execqueue"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Queue", func() {
	var (
		q   execqueue.Queue
		bus eventbus.Bus
		ctx context.Context
	)

	BeforeEach(func() {
		bus = eventbus.New()
		q = execqueue.New(bus)
		ctx = context.Background()
	})

	plan := func(id string) domain.Plan {
		return domain.Plan{PlanID: id, Description: "plan " + id}
	}

	It("preserves FIFO order", func() {
		q.Enqueue(ctx, plan("p1"))
		q.Enqueue(ctx, plan("p2"))
		q.Enqueue(ctx, plan("p3"))
		Expect(q.Size()).To(Equal(3))

		first, ok := q.Dequeue(ctx)
		Expect(ok).To(BeTrue())
		Expect(first.PlanID).To(Equal("p1"))

		second, ok := q.Dequeue(ctx)
		Expect(ok).To(BeTrue())
		Expect(second.PlanID).To(Equal("p2"))
	})

	It("returns false from Dequeue when empty", func() {
		_, ok := q.Dequeue(ctx)
		Expect(ok).To(BeFalse())
	})

	It("deep clones on Enqueue so later caller mutation is invisible", func() {
		p := plan("p1")
		p.Steps = []domain.PlanStep{{ID: "s1", Description: "original"}}
		q.Enqueue(ctx, p)

		p.Steps[0].Description = "mutated after enqueue"

		got, ok := q.FindByPlanId("p1")
		Expect(ok).To(BeTrue())
		Expect(got.Steps[0].Description).To(Equal("original"))
	})

	It("deep clones so mutating a dequeued plan does not affect the enqueued original", func() {
		p := plan("p1")
		p.Steps = []domain.PlanStep{{ID: "s1", Description: "original"}}
		q.Enqueue(ctx, p)

		got, _ := q.Dequeue(ctx)
		got.Steps[0].Description = "mutated after dequeue"

		Expect(p.Steps[0].Description).To(Equal("original"))
	})

	It("finds a plan by id without removing it", func() {
		q.Enqueue(ctx, plan("p1"))
		_, ok := q.FindByPlanId("p1")
		Expect(ok).To(BeTrue())
		Expect(q.Size()).To(Equal(1))
	})

	It("removes a plan by id", func() {
		q.Enqueue(ctx, plan("p1"))
		q.Enqueue(ctx, plan("p2"))

		removed := q.RemoveByPlanId(ctx, "p1")
		Expect(removed).To(BeTrue())
		Expect(q.Size()).To(Equal(1))

		_, ok := q.FindByPlanId("p1")
		Expect(ok).To(BeFalse())
	})

	It("reports false when removing a missing plan", func() {
		Expect(q.RemoveByPlanId(ctx, "nope")).To(BeFalse())
	})

	It("clears all plans", func() {
		q.Enqueue(ctx, plan("p1"))
		q.Enqueue(ctx, plan("p2"))
		q.Clear(ctx)
		Expect(q.Size()).To(Equal(0))
	})

	It("publishes lifecycle events to the bus", func() {
		var types []domain.EventType
		bus.SubscribeAll(func(ctx context.Context, e domain.Event) error {
			types = append(types, e.Type)
			return nil
		})

		q.Enqueue(ctx, plan("p1"))
		q.Dequeue(ctx)
		q.Enqueue(ctx, plan("p2"))
		q.RemoveByPlanId(ctx, "p2")
		q.Clear(ctx)

		Expect(types).To(Equal([]domain.EventType{
			domain.EventPlanEnqueued,
			domain.EventPlanDequeued,
			domain.EventPlanEnqueued,
			domain.EventPlanRemoved,
			domain.EventQueueCleared,
		}))
	})
})
