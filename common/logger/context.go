package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where orchestration
// context (planId, workflowId, etc.) is automatically included in all log statements.
type LogFields struct {
	PlanID       *string // Plan being processed
	WorkflowID   *string // Workflow execution ID
	CheckpointID *string // Checkpoint ID, set once one has been saved
	StepID       *string // Task/step ID within a workflow
	AgentID      *string // Agent handling the current step
	Provider     *string // LLM provider name in use
	Component    string  // Component name (OTel semantic convention style, e.g. "orchestrator.workflow.engine")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.PlanID != nil {
		result.PlanID = new.PlanID
	}
	if new.WorkflowID != nil {
		result.WorkflowID = new.WorkflowID
	}
	if new.CheckpointID != nil {
		result.CheckpointID = new.CheckpointID
	}
	if new.StepID != nil {
		result.StepID = new.StepID
	}
	if new.AgentID != nil {
		result.AgentID = new.AgentID
	}
	if new.Provider != nil {
		result.Provider = new.Provider
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{PlanID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like queries or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
