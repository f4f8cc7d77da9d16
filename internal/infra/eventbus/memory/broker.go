// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker suitable for single-process
// deployments and tests where durability is not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/harborguard/scanhub/internal/domain/events"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

var _ events.EventBus = (*Broker)(nil)

type subscription struct {
	id      int
	handler events.HandlerFunc
}

// Broker provides an in-memory implementation of the events.EventBus
// interface. Handlers are invoked synchronously on the publisher's goroutine;
// a panicking or failing handler is isolated so the remaining handlers and
// the publisher are unaffected.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[events.EventType][]subscription

	logger *logger.Logger
}

// NewBroker creates an in-memory broker with no registered handlers.
func NewBroker(log *logger.Logger) *Broker {
	return &Broker{
		subs:   make(map[events.EventType][]subscription),
		logger: log.With("component", "memory_event_bus"),
	}
}

// Subscribe registers a handler for the given event types. The handler is
// removed when ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	for _, et := range eventTypes {
		b.subs[et] = append(b.subs[et], subscription{id: id, handler: handler})
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, et := range eventTypes {
			subs := b.subs[et]
			for i, s := range subs {
				if s.id == id {
					b.subs[et] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
	}()

	return nil
}

// Publish delivers the event to every handler registered for its type.
// Delivery is best-effort: handler errors and panics are logged and do not
// propagate to the publisher or prevent delivery to other handlers.
func (b *Broker) Publish(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	// Copy handlers to avoid holding the lock while executing them.
	subs := make([]subscription, len(b.subs[event.Type]))
	copy(subs, b.subs[event.Type])
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s, event)
	}
	return nil
}

func (b *Broker) deliver(ctx context.Context, s subscription, event events.DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "event handler panicked", "event_type", event.Type, "panic", r)
		}
	}()

	if err := s.handler(ctx, event); err != nil {
		b.logger.Warn(ctx, "event handler returned error", "event_type", event.Type, "error", err)
	}
}

// Close releases all registered handlers.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[events.EventType][]subscription)
	return nil
}
