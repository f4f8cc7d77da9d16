package patching

import (
	"time"

	"github.com/google/uuid"

	"github.com/harborguard/scanhub/internal/domain/events"
)

// PatchStatusEvent announces a patch operation's phase change on the event
// bus, keyed by operation ID.
type PatchStatusEvent struct {
	OperationID  uuid.UUID
	ScanID       uuid.UUID
	Status       OperationStatus
	PatchedCount int
	FailedCount  int
	Error        string
	Timestamp    time.Time
}

// NewPatchStatusEvent builds a status event from the operation's current
// state.
func NewPatchStatusEvent(op *Operation) PatchStatusEvent {
	return PatchStatusEvent{
		OperationID:  op.ID(),
		ScanID:       op.ScanID(),
		Status:       op.Status(),
		PatchedCount: op.PatchedCount(),
		FailedCount:  op.FailedCount(),
		Error:        op.ErrorMessage(),
		Timestamp:    time.Now().UTC(),
	}
}

// EventType maps the operation phase to the announcing event type.
func (e PatchStatusEvent) EventType() events.EventType {
	if e.Status.IsTerminal() {
		return events.EventTypePatchCompleted
	}
	return events.EventTypePatchStatusChanged
}

// ToDomainEvent wraps the payload in the shared event envelope.
func (e PatchStatusEvent) ToDomainEvent() events.DomainEvent {
	return events.DomainEvent{
		Type:      e.EventType(),
		Key:       e.OperationID.String(),
		Timestamp: e.Timestamp,
		Payload:   e,
	}
}
