package agent_test

import (
	"context"
	"path/filepath"
	"time"

	"github.com/basegraph-labs/orchestrator/internal/agent"
	"github.com/basegraph-labs/orchestrator/internal/domain"
	"github.com/basegraph-labs/orchestrator/internal/eventbus"
	"github.com/basegraph-labs/orchestrator/internal/memory"
	"github.com/basegraph-labs/orchestrator/internal/provider"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stubAdapter struct {
	name    string
	content string
	err     error
}

func (a *stubAdapter) Initialize(ctx context.Context) error { return nil }
func (a *stubAdapter) Test(ctx context.Context) error        { return nil }
func (a *stubAdapter) Name() string                          { return a.name }
func (a *stubAdapter) Execute(ctx context.Context, req domain.LlmRequest) (domain.LlmResponse, error) {
	if a.err != nil {
		return domain.LlmResponse{}, a.err
	}
	return domain.LlmResponse{Content: a.content, Provider: a.name, Model: "stub"}, nil
}

func openMemory() memory.Repository {
	dir := GinkgoT().TempDir()
	repo, err := memory.Open(context.Background(), memory.Config{Path: filepath.Join(dir, "memory.db")}, eventbus.New())
	Expect(err).ToNot(HaveOccurred())
	return repo
}

var _ = Describe("LlmHandler", func() {
	var (
		ctx  context.Context
		mem  memory.Repository
		reg  *provider.Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		mem = openMemory()
		reg = provider.NewRegistry(eventbus.New())
	})

	AfterEach(func() {
		Expect(mem.Close()).To(Succeed())
	})

	It("completes via the provider and writes the output into memory", func() {
		reg.RegisterProvider("stub", provider.RegisterOptions{
			Adapter:      &stubAdapter{name: "stub", content: "implementation plan"},
			MaxTokens:    10,
			RefillRate:   10,
			RefillPeriod: time.Millisecond,
		})

		h := &agent.LlmHandler{Providers: reg, Memory: mem, Agent: domain.AgentDeveloper}
		task := agent.Task{
			WorkflowID: "wf_1",
			PlanID:     "plan_1",
			Step: domain.PlanStep{
				ID: "seq_3", Type: domain.StepImplementation, Agent: domain.AgentDeveloper,
				Description: "implement the thing",
			},
		}

		result, err := h.Handle(ctx, task)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(result.Output).To(Equal("implementation plan"))
		Expect(result.MemoryUpdates).To(HaveLen(1))

		stored, err := mem.Get(ctx, result.MemoryUpdates[0], domain.AgentDeveloper)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.Category).To(Equal("solutions"))
		Expect(stored.Data).To(Equal("implementation plan"))
	})

	It("surfaces the provider error and marks the task unsuccessful", func() {
		reg.RegisterProvider("stub", provider.RegisterOptions{
			Adapter:      &stubAdapter{name: "stub", err: domain.NewError(domain.ErrForbidden, "blocked", nil)},
			MaxTokens:    10,
			RefillRate:   10,
			RefillPeriod: time.Millisecond,
		})

		h := &agent.LlmHandler{Providers: reg, Memory: mem, Agent: domain.AgentQA}
		task := agent.Task{Step: domain.PlanStep{ID: "seq_4", Type: domain.StepQA, Agent: domain.AgentQA}}

		result, err := h.Handle(ctx, task)
		Expect(err).To(HaveOccurred())
		Expect(result.Success).To(BeFalse())
		Expect(result.ErrorKind).To(Equal(domain.ErrForbidden))
	})
})

var _ = Describe("NewDefaultRegistry", func() {
	It("registers a handler for every agent the planner can assign", func() {
		reg := provider.NewRegistry(eventbus.New())
		mem := openMemory()
		defer mem.Close()

		registry := agent.NewDefaultRegistry(reg, mem)
		for _, a := range []domain.AgentID{domain.AgentPlanner, domain.AgentBrain, domain.AgentDeveloper, domain.AgentQA, domain.AgentDocs} {
			_, ok := registry.Lookup(a)
			Expect(ok).To(BeTrue(), "expected a handler for %s", a)
		}
	})
})
