package domain

import (
	"encoding/json"
	"time"
)

// EventType enumerates every event the Event Bus carries, grouped by the
// component that publishes it (SPEC_FULL.md §6 event catalog).
type EventType string

const (
	EventPlanCreated  EventType = "plan.created"
	EventPlanEnqueued EventType = "plan.enqueued"
	EventPlanDequeued EventType = "plan.dequeued"
	EventPlanRemoved  EventType = "plan.removed"
	EventQueueCleared EventType = "queue.cleared"

	EventWorkflowStarted      EventType = "workflow.started"
	EventWorkflowTaskStarted  EventType = "workflow.task.started"
	EventWorkflowTaskComplete EventType = "workflow.task.completed"
	EventWorkflowTaskFailed   EventType = "workflow.task.failed"
	EventWorkflowTaskRetried  EventType = "workflow.task.retried"
	EventWorkflowCheckpoint   EventType = "workflow.checkpoint"
	EventWorkflowCompleted    EventType = "workflow.completed"
	EventWorkflowFailed       EventType = "workflow.failed"

	EventMemoryStored  EventType = "memory.stored"
	EventMemoryUpdated EventType = "memory.updated"
	EventMemoryDeleted EventType = "memory.deleted"

	EventProviderRequest          EventType = "provider.request"
	EventProviderResponse         EventType = "provider.response"
	EventProviderFailover         EventType = "provider.failover"
	EventProviderError            EventType = "provider.error"
	EventProviderRateLimitExceeded EventType = "provider.rateLimit.exceeded"
	EventProviderCircuitOpened    EventType = "provider.circuit.opened"
	EventProviderCircuitClosed    EventType = "provider.circuit.closed"
)

// Event is the envelope every publisher hands to the Event Bus. Payload is
// kept as raw JSON so the bus itself never needs to know the shape of any
// particular event; subscribers unmarshal what they expect.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload and wraps it into an Event with the
// caller-supplied correlation id and the current timestamp.
func NewEvent(id string, t EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: id, Type: t, Timestamp: time.Now(), Payload: raw}, nil
}
