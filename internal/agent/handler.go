package agent

import (
	"context"
	"fmt"

	"github.com/basegraph-labs/orchestrator/internal/domain"
	"github.com/basegraph-labs/orchestrator/internal/memory"
	"github.com/basegraph-labs/orchestrator/internal/provider"
)

// LlmHandler is the default Handler: it turns a step into one Provider
// Registry completion, then writes the result into the Memory Repository
// under the step's own agent origin so downstream steps can retrieve it via
// SearchSimilar.
type LlmHandler struct {
	Providers *provider.Registry
	Memory    memory.Repository
	Agent     domain.AgentID
}

func (h *LlmHandler) Handle(ctx context.Context, task Task) (domain.TaskResult, error) {
	resp, err := h.Providers.Complete(ctx, domain.LlmRequest{
		Messages: []domain.LlmMessage{
			{Role: "system", Content: systemPrompt(task.Step)},
			{Role: "user", Content: userPrompt(task)},
		},
	})
	if err != nil {
		return domain.TaskResult{Success: false, Error: err.Error(), ErrorKind: domain.KindOf(err)}, err
	}

	result := domain.TaskResult{Success: true, Output: resp.Content}

	if h.Memory != nil {
		record, putErr := h.Memory.Put(ctx, domain.MemoryRecord{
			Key:         task.Step.ID,
			Category:    categoryFor(task.Step.Type),
			Data:        resp.Content,
			AgentOrigin: task.Step.Agent,
		})
		if putErr == nil {
			result.MemoryUpdates = []string{record.RecordID}
		}
	}

	return result, nil
}

func systemPrompt(step domain.PlanStep) string {
	return fmt.Sprintf("You are the %s agent on a software delivery plan. Produce a %s deliverable for step %q.",
		step.Agent, step.Type, step.ID)
}

func userPrompt(task Task) string {
	return fmt.Sprintf("Step: %s\nDescription: %s\nExpected outputs: %v",
		task.Step.Type, task.Step.Description, task.Step.ExpectedOutputs)
}

func categoryFor(t domain.StepType) string {
	switch t {
	case domain.StepAnalysis, domain.StepDesign:
		return "decisions"
	case domain.StepImplementation:
		return "solutions"
	case domain.StepQA, domain.StepReview:
		return "patterns"
	default:
		return "artifacts"
	}
}

// NewDefaultRegistry wires one LlmHandler per known AgentID, sufficient to
// execute any plan the Planner Core can produce (including forbidden/allowed
// agent remapping, which only ever substitutes among these five).
func NewDefaultRegistry(providers *provider.Registry, mem memory.Repository) *Registry {
	reg := NewRegistry(nil)
	for _, a := range []domain.AgentID{
		domain.AgentPlanner, domain.AgentBrain, domain.AgentDeveloper, domain.AgentQA, domain.AgentDocs,
	} {
		reg.Register(a, &LlmHandler{Providers: providers, Memory: mem, Agent: a})
	}
	return reg
}
