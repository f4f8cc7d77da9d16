package events

// EventType represents a domain event category, enabling type-safe event routing
// and handling. It allows the system to distinguish between different kinds of
// events like queue admission, scan progress updates, and patch lifecycle changes.
type EventType string

// Domain event type constants.
// These describe "something happened" in the scanning and patching pipelines.
const (
	EventTypeScanQueued          EventType = "ScanQueued"
	EventTypeScanStarted         EventType = "ScanStarted"
	EventTypeScanProgressUpdated EventType = "ScanProgressUpdated"
	EventTypeScanCompleted       EventType = "ScanCompleted"
	EventTypeScanCancelled       EventType = "ScanCancelled"

	EventTypePatchStatusChanged EventType = "PatchStatusChanged"
	EventTypePatchCompleted     EventType = "PatchCompleted"
)

// PublishOption is a function type that modifies PublishParams.
// It enables flexible configuration of event publishing behavior through functional options.
type PublishOption func(*PublishParams)

// PublishParams contains configuration options for publishing domain events.
type PublishParams struct {
	// Key is used as a partition key to control event routing and ordering.
	Key string
	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string
}

// WithKey returns a PublishOption that sets the partition key for event routing.
// The key helps ensure related events are processed in order by the same consumer.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithHeaders returns a PublishOption that attaches metadata headers to an event.
func WithHeaders(headers map[string]string) PublishOption {
	return func(p *PublishParams) { p.Headers = headers }
}
