// Package bus provides a small in-process event bus for lifecycle
// notifications. Delivery is synchronous and ordered per topic.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Topics published by the conversation runner and sub-agent supervisor.
const (
	TopicToolStarted       = "tool.started"
	TopicToolCompleted     = "tool.completed"
	TopicSubAgentSpawned   = "subagent.spawned"
	TopicSubAgentCompleted = "subagent.completed"
)

// Event is one published notification.
type Event struct {
	Topic   string
	Payload map[string]any
	At      time.Time
}

// Handler processes one event. A non-nil error is reported to the publisher
// but does not stop delivery to other handlers.
type Handler func(ctx context.Context, event Event) error

// Bus fans events out to topic subscribers. Handlers for one topic run in
// subscription order, synchronously with Publish.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a topic. Handlers cannot be removed.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish delivers the event to every subscriber of its topic, in order,
// on the caller's goroutine. Handler errors are joined and returned; every
// handler runs regardless of earlier failures.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers[event.Topic]
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
