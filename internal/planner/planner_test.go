package planner_test

import (
	"context"

	"github.com/basegraph-labs/orchestrator/internal/domain"
	"github.com/basegraph-labs/orchestrator/internal/eventbus"
	"github.com/basegraph-labs/orchestrator/internal/execqueue"
	"github.com/basegraph-labs/orchestrator/internal/planner"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Core.CreatePlan", func() {
	var (
		core *planner.Core
		bus  eventbus.Bus
		q    execqueue.Queue
		ctx  context.Context
	)

	BeforeEach(func() {
		bus = eventbus.New()
		q = execqueue.New(bus)
		core = planner.New(q, bus, "")
		ctx = context.Background()
	})

	It("builds the canonical 5-step plan for a bare request", func() {
		plan, err := core.CreatePlan(ctx, domain.PlannerInput{Request: "Add JWT auth"})
		Expect(err).ToNot(HaveOccurred())

		Expect(plan.Steps).To(HaveLen(5))
		types := make([]domain.StepType, len(plan.Steps))
		agents := make([]domain.AgentID, len(plan.Steps))
		for i, s := range plan.Steps {
			types[i] = s.Type
			agents[i] = s.Agent
		}
		Expect(types).To(Equal([]domain.StepType{
			domain.StepAnalysis, domain.StepDesign, domain.StepImplementation,
			domain.StepQA, domain.StepGovernance,
		}))
		Expect(agents).To(Equal([]domain.AgentID{
			domain.AgentPlanner, domain.AgentPlanner, domain.AgentDeveloper,
			domain.AgentQA, domain.AgentDocs,
		}))
	})

	It("chains step dependencies on the immediate predecessor", func() {
		plan, err := core.CreatePlan(ctx, domain.PlannerInput{Request: "Add JWT auth"})
		Expect(err).ToNot(HaveOccurred())

		Expect(plan.Steps[0].Dependencies).To(BeEmpty())
		for i := 1; i < len(plan.Steps); i++ {
			Expect(plan.Steps[i].Dependencies).To(Equal([]string{plan.Steps[i-1].ID}))
		}
	})

	It("enqueues the plan and publishes plan.created", func() {
		var published []domain.EventType
		bus.SubscribeAll(func(ctx context.Context, e domain.Event) error {
			published = append(published, e.Type)
			return nil
		})

		plan, err := core.CreatePlan(ctx, domain.PlannerInput{Request: "Add JWT auth"})
		Expect(err).ToNot(HaveOccurred())

		Expect(published).To(ContainElement(domain.EventPlanCreated))
		Expect(published).To(ContainElement(domain.EventPlanEnqueued))

		queued, ok := q.FindByPlanId(plan.PlanID)
		Expect(ok).To(BeTrue())
		Expect(queued.PlanID).To(Equal(plan.PlanID))
	})

	It("fails with InvalidInput on an empty request", func() {
		_, err := core.CreatePlan(ctx, domain.PlannerInput{Request: ""})
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrInvalidInput))
	})

	It("fails with InvalidInput when an agent is both forbidden and allowed", func() {
		_, err := core.CreatePlan(ctx, domain.PlannerInput{
			Request: "x",
			Constraints: &domain.PlannerConstraints{
				ForbiddenAgents: map[domain.AgentID]bool{domain.AgentQA: true},
				AllowedAgents:   map[domain.AgentID]bool{domain.AgentQA: true},
			},
		})
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrInvalidInput))
	})

	It("scales durations down under prioritizeSpeed", func() {
		base, err := core.CreatePlan(ctx, domain.PlannerInput{Request: "x"})
		Expect(err).ToNot(HaveOccurred())

		fast, err := core.CreatePlan(ctx, domain.PlannerInput{
			Request:     "x",
			Preferences: &domain.PlannerPreferences{PrioritizeSpeed: true},
		})
		Expect(err).ToNot(HaveOccurred())

		Expect(fast.TotalDuration()).To(BeNumerically("<", base.TotalDuration()))
		Expect(fast.Steps).To(HaveLen(5))
	})

	It("scales durations up and appends a review step under prioritizeQuality", func() {
		plan, err := core.CreatePlan(ctx, domain.PlannerInput{
			Request:     "x",
			Preferences: &domain.PlannerPreferences{PrioritizeQuality: true},
		})
		Expect(err).ToNot(HaveOccurred())

		Expect(plan.Steps).To(HaveLen(6))
		last := plan.Steps[len(plan.Steps)-1]
		Expect(last.Type).To(Equal(domain.StepReview))
		Expect(last.Agent).To(Equal(domain.AgentDocs))
		Expect(last.Dependencies).To(Equal([]string{plan.Steps[4].ID}))
	})

	It("lets quality win when both speed and quality are set", func() {
		plan, err := core.CreatePlan(ctx, domain.PlannerInput{
			Request: "x",
			Preferences: &domain.PlannerPreferences{
				PrioritizeSpeed:   true,
				PrioritizeQuality: true,
			},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(plan.Steps).To(HaveLen(6))
		Expect(plan.Steps[len(plan.Steps)-1].Type).To(Equal(domain.StepReview))
	})

	It("marks costSensitive without changing durations under minimizeCost", func() {
		base, err := core.CreatePlan(ctx, domain.PlannerInput{Request: "x"})
		Expect(err).ToNot(HaveOccurred())

		plan, err := core.CreatePlan(ctx, domain.PlannerInput{
			Request:     "x",
			Preferences: &domain.PlannerPreferences{MinimizeCost: true},
		})
		Expect(err).ToNot(HaveOccurred())

		Expect(plan.Metadata.CostSensitive).To(BeTrue())
		Expect(plan.TotalDuration()).To(Equal(base.TotalDuration()))
	})

	It("remaps a forbidden agent to its substitute", func() {
		plan, err := core.CreatePlan(ctx, domain.PlannerInput{
			Request: "x",
			Constraints: &domain.PlannerConstraints{
				ForbiddenAgents: map[domain.AgentID]bool{domain.AgentDeveloper: true},
			},
		})
		Expect(err).ToNot(HaveOccurred())

		implStep := plan.Steps[2]
		Expect(implStep.Type).To(Equal(domain.StepImplementation))
		Expect(implStep.Agent).To(Equal(domain.AgentBrain))
	})

	It("fails Infeasible when a forbidden agent has no feasible substitute", func() {
		_, err := core.CreatePlan(ctx, domain.PlannerInput{
			Request: "x",
			Constraints: &domain.PlannerConstraints{
				ForbiddenAgents: map[domain.AgentID]bool{
					domain.AgentDeveloper: true,
					domain.AgentBrain:     true,
				},
			},
		})
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrInfeasible))
	})

	It("drops optional steps to satisfy maxDuration", func() {
		base, err := core.CreatePlan(ctx, domain.PlannerInput{Request: "x"})
		Expect(err).ToNot(HaveOccurred())

		governanceDuration := base.Steps[4].EstimatedDuration
		budget := base.TotalDuration() - governanceDuration

		plan, err := core.CreatePlan(ctx, domain.PlannerInput{
			Request:     "x",
			Constraints: &domain.PlannerConstraints{MaxDuration: &budget},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(plan.Steps).To(HaveLen(4))
		for _, s := range plan.Steps {
			Expect(s.Type).ToNot(Equal(domain.StepGovernance))
		}
	})

	It("fails Infeasible when maxDuration cannot be met after dropping all optional steps", func() {
		tiny := 1
		_, err := core.CreatePlan(ctx, domain.PlannerInput{
			Request:     "x",
			Constraints: &domain.PlannerConstraints{MaxDuration: &tiny},
		})
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrInfeasible))
	})

	It("fails Infeasible for an explicit zero maxDuration on a non-empty plan", func() {
		zero := 0
		_, err := core.CreatePlan(ctx, domain.PlannerInput{
			Request:     "x",
			Constraints: &domain.PlannerConstraints{MaxDuration: &zero},
		})
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrInfeasible))
	})

	It("treats an unset (nil) maxDuration as unbounded", func() {
		plan, err := core.CreatePlan(ctx, domain.PlannerInput{
			Request:     "x",
			Constraints: &domain.PlannerConstraints{ForbiddenAgents: map[domain.AgentID]bool{}},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(plan.Steps).ToNot(BeEmpty())
	})
})
