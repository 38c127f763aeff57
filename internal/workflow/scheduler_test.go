package workflow_test

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/basegraph-labs/orchestrator/internal/agent"
	"github.com/basegraph-labs/orchestrator/internal/domain"
	"github.com/basegraph-labs/orchestrator/internal/eventbus"
	"github.com/basegraph-labs/orchestrator/internal/workflow"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func step(id, stepType string, agentID domain.AgentID, deps ...string) domain.PlanStep {
	return domain.PlanStep{
		ID: id, Type: domain.StepType(stepType), Agent: agentID, Description: "do " + id,
		Dependencies: deps,
	}
}

func newEngine() (*workflow.Engine, *agent.Registry, string) {
	reg := agent.NewRegistry(nil)
	dir := GinkgoT().TempDir()
	engine := workflow.New(reg, eventbus.New(), workflow.NewCheckpointStore(dir), nil)
	return engine, reg, dir
}

var _ = Describe("Engine.Execute", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("runs a linear chain of steps to completion in dependency order", func() {
		engine, reg, _ := newEngine()
		var order []string
		reg.Register(domain.AgentPlanner, agent.HandlerFunc(func(_ context.Context, t agent.Task) (domain.TaskResult, error) {
			order = append(order, t.Step.ID)
			return domain.TaskResult{Success: true}, nil
		}))

		plan := domain.Plan{
			PlanID: "plan_1",
			Steps: []domain.PlanStep{
				step("seq_1", "analysis", domain.AgentPlanner),
				step("seq_2", "design", domain.AgentPlanner, "seq_1"),
				step("seq_3", "implementation", domain.AgentPlanner, "seq_2"),
			},
		}

		result, err := engine.Execute(ctx, plan, workflow.Options{Mode: "sequential"})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(domain.WorkflowCompleted))
		Expect(result.CompletedTasks).To(ConsistOf("seq_1", "seq_2", "seq_3"))
		Expect(order).To(Equal([]string{"seq_1", "seq_2", "seq_3"}))
		Expect(result.Checkpoints).ToNot(BeEmpty())
	})

	It("skips transitive dependents of a non-retryable failure", func() {
		engine, reg, _ := newEngine()
		reg.Register(domain.AgentPlanner, agent.HandlerFunc(func(_ context.Context, t agent.Task) (domain.TaskResult, error) {
			if t.Step.ID == "seq_1" {
				err := domain.NewError(domain.ErrInvalidInput, "bad input", nil)
				return domain.TaskResult{Success: false, Error: err.Error(), ErrorKind: domain.ErrInvalidInput}, err
			}
			return domain.TaskResult{Success: true}, nil
		}))

		plan := domain.Plan{
			PlanID: "plan_2",
			Steps: []domain.PlanStep{
				step("seq_1", "analysis", domain.AgentPlanner),
				step("seq_2", "design", domain.AgentPlanner, "seq_1"),
				step("seq_3", "implementation", domain.AgentPlanner, "seq_2"),
			},
		}

		result, err := engine.Execute(ctx, plan, workflow.Options{Mode: "sequential"})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(domain.WorkflowFailed))
		Expect(result.FailedTasks).To(ConsistOf("seq_1"))
		Expect(result.SkippedTasks).To(ConsistOf("seq_2", "seq_3"))
	})

	It("continues past a failure when ContinueOnFailure is set", func() {
		engine, reg, _ := newEngine()
		reg.Register(domain.AgentDeveloper, agent.HandlerFunc(func(_ context.Context, t agent.Task) (domain.TaskResult, error) {
			if t.Step.ID == "seq_1" {
				err := domain.NewError(domain.ErrInvalidInput, "bad input", nil)
				return domain.TaskResult{Success: false, ErrorKind: domain.ErrInvalidInput}, err
			}
			return domain.TaskResult{Success: true}, nil
		}))

		plan := domain.Plan{
			PlanID: "plan_3",
			Steps: []domain.PlanStep{
				step("seq_1", "analysis", domain.AgentDeveloper),
				step("seq_2", "design", domain.AgentDeveloper), // no dependency on seq_1
			},
		}

		result, err := engine.Execute(ctx, plan, workflow.Options{Mode: "sequential", ContinueOnFailure: true})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(domain.WorkflowPartial))
		Expect(result.FailedTasks).To(ConsistOf("seq_1"))
		Expect(result.CompletedTasks).To(ConsistOf("seq_2"))
	})

	It("fails fast with DependencyCycle when the plan graph has a cycle", func() {
		engine, _, _ := newEngine()
		plan := domain.Plan{
			PlanID: "plan_4",
			Steps: []domain.PlanStep{
				step("seq_1", "analysis", domain.AgentPlanner, "seq_2"),
				step("seq_2", "design", domain.AgentPlanner, "seq_1"),
			},
		}

		_, err := engine.Execute(ctx, plan, workflow.Options{})
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrDependencyCycle))
	})

	It("reports completed immediately for a plan with no steps", func() {
		engine, _, _ := newEngine()
		result, err := engine.Execute(ctx, domain.Plan{PlanID: "plan_empty"}, workflow.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(domain.WorkflowCompleted))
		Expect(result.CompletedTasks).To(BeEmpty())
	})

	It("runs independent steps concurrently in parallel mode", func() {
		engine, reg, _ := newEngine()
		var calls int32
		reg.Register(domain.AgentQA, agent.HandlerFunc(func(_ context.Context, t agent.Task) (domain.TaskResult, error) {
			atomic.AddInt32(&calls, 1)
			return domain.TaskResult{Success: true}, nil
		}))

		plan := domain.Plan{
			PlanID: "plan_parallel",
			Steps: []domain.PlanStep{
				step("seq_1", "implementation", domain.AgentQA),
				step("seq_2", "implementation", domain.AgentQA),
				step("seq_3", "implementation", domain.AgentQA),
			},
		}

		result, err := engine.Execute(ctx, plan, workflow.Options{Mode: "parallel", Parallelism: 3})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(domain.WorkflowCompleted))
		Expect(result.CompletedTasks).To(HaveLen(3))
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(3)))
	})

	It("does not retry a non-retryable error and fails on the first attempt", func() {
		engine, reg, _ := newEngine()
		var calls int32
		reg.Register(domain.AgentDocs, agent.HandlerFunc(func(_ context.Context, t agent.Task) (domain.TaskResult, error) {
			atomic.AddInt32(&calls, 1)
			err := domain.NewError(domain.ErrInvalidInput, "bad input", nil)
			return domain.TaskResult{Success: false, ErrorKind: domain.ErrInvalidInput}, err
		}))

		plan := domain.Plan{
			PlanID: "plan_5",
			Steps:  []domain.PlanStep{step("seq_1", "governance", domain.AgentDocs)},
		}

		result, err := engine.Execute(ctx, plan, workflow.Options{Mode: "sequential"})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(domain.WorkflowFailed))
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
	})
})

var _ = Describe("CheckpointStore", func() {
	It("round-trips a checkpoint", func() {
		dir := GinkgoT().TempDir()
		store := workflow.NewCheckpointStore(dir)
		cp := domain.WorkflowCheckpoint{
			CheckpointID: "ckpt_1",
			WorkflowID:   "wf_1",
			PlanID:       "plan_1",
			TaskStates: map[string]domain.TaskState{
				"seq_1": {StepID: "seq_1", Status: domain.TaskCompleted},
			},
		}
		Expect(store.Save(context.Background(), cp)).To(Succeed())

		loaded, err := store.Load(context.Background(), "wf_1", "ckpt_1")
		Expect(err).ToNot(HaveOccurred())
		Expect(loaded.TaskStates["seq_1"].Status).To(Equal(domain.TaskCompleted))

		latest, err := store.Latest("wf_1")
		Expect(err).ToNot(HaveOccurred())
		Expect(latest).To(Equal("ckpt_1"))
	})

	It("reports NotFound for a checkpoint that was never saved", func() {
		store := workflow.NewCheckpointStore(filepath.Join(GinkgoT().TempDir()))
		_, err := store.Load(context.Background(), "wf_ghost", "ckpt_ghost")
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrNotFound))
	})
})
