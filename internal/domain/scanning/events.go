package scanning

import (
	"time"

	"github.com/google/uuid"

	"github.com/harborguard/scanhub/internal/domain/events"
)

// ScanProgressEvent notifies listeners of any change to a job's progress or
// lifecycle state. Delivery is best-effort and synchronous; no ordering is
// guaranteed between listeners.
type ScanProgressEvent struct {
	RequestID string
	ScanID    uuid.UUID
	Status    JobStatus
	Progress  int
	Step      string
	Error     string
	Timestamp time.Time
}

// NewScanProgressEvent builds a progress event from the job's current state.
func NewScanProgressEvent(job *Job) ScanProgressEvent {
	return ScanProgressEvent{
		RequestID: job.RequestID(),
		ScanID:    job.ScanID(),
		Status:    job.Status(),
		Progress:  job.Progress(),
		Step:      job.Step(),
		Error:     job.ErrorMessage(),
		Timestamp: time.Now().UTC(),
	}
}

// EventType maps a job status to the domain event type announcing it.
func (e ScanProgressEvent) EventType() events.EventType {
	switch e.Status {
	case JobStatusRunning:
		if e.Progress == 0 {
			return events.EventTypeScanStarted
		}
		return events.EventTypeScanProgressUpdated
	case JobStatusSuccess, JobStatusFailed:
		return events.EventTypeScanCompleted
	case JobStatusCancelled:
		return events.EventTypeScanCancelled
	default:
		return events.EventTypeScanQueued
	}
}

// ToDomainEvent wraps the progress payload in the shared event envelope keyed
// by request ID so per-job ordering survives partitioned transports.
func (e ScanProgressEvent) ToDomainEvent() events.DomainEvent {
	return events.DomainEvent{
		Type:      e.EventType(),
		Key:       e.RequestID,
		Timestamp: e.Timestamp,
		Payload:   e,
	}
}
