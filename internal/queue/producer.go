// Package queue mirrors ready-task dispatch events onto a Redis Stream so
// an external worker fleet can observe (and, in the future, claim) tasks
// the in-process coordinator is about to execute. The mirror is
// observational only: consuming it never changes which goroutine actually
// runs a task handler (SPEC_FULL.md §4.2 "Task dispatch transport").
package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DispatchMessage is mirrored once per ready task the coordinator hands to
// the worker pool.
type DispatchMessage struct {
	WorkflowID string
	StepID     string
	Agent      string
	Attempt    int
	TraceID    string
}

// Producer mirrors dispatch events. The Workflow Engine accepts a nil
// Producer, so a process that configures no dispatch transport has no Redis
// dependency.
type Producer interface {
	Dispatch(ctx context.Context, msg DispatchMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
}

// NewRedisProducer mirrors dispatch events onto stream. Every workflow's
// events go to that single stream; each message carries its workflow_id.
func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{client: client, stream: stream}
}

func (p *redisProducer) Dispatch(ctx context.Context, msg DispatchMessage) error {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"workflow_id": msg.WorkflowID,
		"step_id":     msg.StepID,
		"agent":       msg.Agent,
		"attempt":     attempt,
	}
	if msg.TraceID != "" {
		fields["trace_id"] = msg.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("mirror dispatch event (stream=%s): %w", p.stream, err)
	}

	slog.DebugContext(ctx, "mirrored task dispatch",
		"workflow_id", msg.WorkflowID, "step_id", msg.StepID, "attempt", attempt, "stream", p.stream)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
