// Package agent implements the handler contract the Workflow Engine
// dispatches tasks through, plus a registry and a default set of
// role-specific handlers that exercise the Provider Registry and the
// Memory Repository (SPEC_FULL.md §6 "Agent contract").
package agent

import (
	"context"

	"github.com/basegraph-labs/orchestrator/internal/domain"
)

// Task is what the Workflow Engine hands to a Handler for one step.
type Task struct {
	WorkflowID string
	PlanID     string
	Step       domain.PlanStep
	Attempt    int
}

// Handler executes one task. Implementations must not block indefinitely
// and must return promptly once ctx is cancelled.
type Handler interface {
	Handle(ctx context.Context, task Task) (domain.TaskResult, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, task Task) (domain.TaskResult, error)

func (f HandlerFunc) Handle(ctx context.Context, task Task) (domain.TaskResult, error) {
	return f(ctx, task)
}

// Registry maps an AgentID to the Handler that executes its steps.
type Registry struct {
	handlers map[domain.AgentID]Handler
	fallback Handler
}

// NewRegistry builds an empty registry. Register handlers with Register;
// an unregistered AgentID falls back to fallback if non-nil, else Lookup
// reports ok=false.
func NewRegistry(fallback Handler) *Registry {
	return &Registry{handlers: make(map[domain.AgentID]Handler), fallback: fallback}
}

func (r *Registry) Register(agent domain.AgentID, handler Handler) {
	r.handlers[agent] = handler
}

func (r *Registry) Lookup(agent domain.AgentID) (Handler, bool) {
	if h, ok := r.handlers[agent]; ok {
		return h, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}
