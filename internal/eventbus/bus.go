// Package eventbus implements the process-wide named event dispatch that
// every other component publishes significant state changes to
// (SPEC_FULL.md §2/§6). Delivery is synchronous fan-out in the publisher's
// goroutine; a misbehaving subscriber is logged and skipped rather than
// allowed to block or fail the publisher, since Publish is called from
// hot paths (planner enqueue, workflow step transitions, provider calls).
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/basegraph-labs/orchestrator/internal/domain"
)

// Handler reacts to a published event. Returning an error only logs; it
// never stops delivery to other subscribers.
type Handler func(ctx context.Context, event domain.Event) error

// Subscription is returned by Subscribe; Close unregisters the handler.
type Subscription interface {
	Close()
}

// Bus is the event bus contract consumed by every other component.
type Bus interface {
	// Publish fans the event out to every subscriber registered for its
	// Type (or registered for all types via SubscribeAll).
	Publish(ctx context.Context, event domain.Event)
	// Subscribe registers h for events of type t.
	Subscribe(t domain.EventType, h Handler) Subscription
	// SubscribeAll registers h for every event type published on the bus.
	SubscribeAll(h Handler) Subscription
}

type registration struct {
	eventType domain.EventType
	all       bool
	handler   Handler
}

type bus struct {
	mu   sync.RWMutex
	regs map[*registration]struct{}
}

// New constructs an in-memory event bus.
func New() Bus {
	return &bus{regs: make(map[*registration]struct{})}
}

func (b *bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	matched := make([]*registration, 0, len(b.regs))
	for r := range b.regs {
		if r.all || r.eventType == event.Type {
			matched = append(matched, r)
		}
	}
	b.mu.RUnlock()

	for _, r := range matched {
		if err := safeInvoke(ctx, r.handler, event); err != nil {
			slog.ErrorContext(ctx, "eventbus subscriber failed",
				slog.String("eventType", string(event.Type)),
				slog.String("eventId", event.ID),
				slog.Any("error", err))
		}
	}
}

func safeInvoke(ctx context.Context, h Handler, event domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "eventbus subscriber panicked",
				slog.String("eventType", string(event.Type)),
				slog.Any("panic", r))
		}
	}()
	return h(ctx, event)
}

func (b *bus) Subscribe(t domain.EventType, h Handler) Subscription {
	return b.register(&registration{eventType: t, handler: h})
}

func (b *bus) SubscribeAll(h Handler) Subscription {
	return b.register(&registration{all: true, handler: h})
}

func (b *bus) register(r *registration) Subscription {
	b.mu.Lock()
	b.regs[r] = struct{}{}
	b.mu.Unlock()
	return &subscription{bus: b, reg: r}
}

type subscription struct {
	bus  *bus
	reg  *registration
	once sync.Once
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.regs, s.reg)
		s.bus.mu.Unlock()
	})
}
