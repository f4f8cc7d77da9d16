// Package events provides domain event handling capabilities for communicating state changes
// and important activities across system boundaries in a decoupled way.
package events

import "context"

// HandlerFunc processes a single domain event. Handlers are registered against
// event types on an EventBus and invoked for each matching published event.
type HandlerFunc func(ctx context.Context, evt DomainEvent) error

// DomainEventPublisher publishes domain events to notify other parts of the system about
// important domain changes. It provides a technology-agnostic interface to decouple event
// producers from the underlying messaging infrastructure.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers. The provided context
	// controls cancellation and deadlines. Optional PublishOptions configure routing behavior.
	// Returns an error if publishing fails.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// EventBus enables publishing and subscribing to domain events across component
// boundaries. It abstracts delivery details (in-process fan-out or Kafka) to keep
// domain logic focused on business concerns rather than transport mechanisms.
type EventBus interface {
	// Publish broadcasts a domain event to all interested subscribers. Delivery is
	// best-effort: a failing subscriber is isolated and must not prevent delivery
	// to the remaining subscribers or fail the publisher.
	Publish(ctx context.Context, event DomainEvent, opts ...PublishOption) error

	// Subscribe registers a handler function to process events of the specified types.
	// The handler executes for each matching event received on this bus. The handler
	// is removed when the provided context is cancelled.
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error

	// Close gracefully shuts down the event bus and releases associated resources.
	Close() error
}
