package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConsumerConfig configures a consumer-group reader over a dispatch-mirror
// stream.
type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Batch    int64
	Block    time.Duration
}

// Message is one mirrored dispatch event read back off the stream.
type Message struct {
	ID         string
	WorkflowID string
	StepID     string
	Agent      string
	Attempt    int
	TraceID    string
	Raw        redis.XMessage
}

// RedisConsumer reads mirrored dispatch events for observability or replay
// by an external worker fleet; it never feeds results back into the
// in-process coordinator (SPEC_FULL.md §4.2).
type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	c := &RedisConsumer{client: client, cfg: cfg}
	if err := c.ensureGroup(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Starting from "0" rather than "$" means a freshly (re)created group
	// still sees whatever is already on the stream.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.Batch,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, raw := range stream.Messages {
			msg, parseErr := parseMessage(raw)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse dispatch mirror message",
					"error", parseErr, "raw_message_id", raw.ID, "stream", c.cfg.Stream)
				_ = c.Ack(ctx, Message{ID: raw.ID})
				continue
			}
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

func parseMessage(msg redis.XMessage) (Message, error) {
	workflowID, err := requiredString(msg.Values, "workflow_id")
	if err != nil {
		return Message{}, err
	}
	stepID, err := requiredString(msg.Values, "step_id")
	if err != nil {
		return Message{}, err
	}
	agent, _ := optionalString(msg.Values, "agent")
	traceID, _ := optionalString(msg.Values, "trace_id")

	attempt, err := optionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return Message{
		ID:         msg.ID,
		WorkflowID: workflowID,
		StepID:     stepID,
		Agent:      agent,
		Attempt:    attempt,
		TraceID:    traceID,
		Raw:        msg,
	}, nil
}

func requiredString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func optionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}

func optionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}
