package scanning

import (
	"errors"
	"fmt"
)

// JobStatus represents the lifecycle state of a scan job. It enables tracking
// of a job from submission through queue admission to its terminal outcome.
type JobStatus string

// ErrJobStatusUnknown is returned when a job status is unknown.
var ErrJobStatusUnknown = errors.New("job status unknown")

const (
	// JobStatusPending indicates a job has been created and is waiting in the queue.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusRunning indicates a job has been admitted and is actively scanning.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusSuccess indicates a job finished with a persisted result set.
	JobStatusSuccess JobStatus = "SUCCESS"

	// JobStatusFailed indicates a job encountered an unrecoverable error.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCancelled indicates a job was cancelled before completion.
	JobStatusCancelled JobStatus = "CANCELLED"

	// JobStatusUnspecified is used when a job status is unknown.
	JobStatusUnspecified JobStatus = "UNSPECIFIED"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether the status is a final state. Terminal states are
// immutable; no transitions out of them are permitted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed || s == JobStatusCancelled
}

// ParseJobStatus converts a string to a JobStatus.
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "PENDING":
		return JobStatusPending
	case "RUNNING":
		return JobStatusRunning
	case "SUCCESS":
		return JobStatusSuccess
	case "FAILED":
		return JobStatusFailed
	case "CANCELLED":
		return JobStatusCancelled
	default:
		return JobStatusUnspecified
	}
}

// validateTransition checks if a status transition is valid and returns an error if not.
func (s JobStatus) validateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target status.
// Pending jobs reach Running only through queue admission; cancellation is valid
// from any non-terminal state.
func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		return target == JobStatusRunning || target == JobStatusFailed || target == JobStatusCancelled
	case JobStatusRunning:
		return target == JobStatusSuccess || target == JobStatusFailed || target == JobStatusCancelled
	case JobStatusSuccess, JobStatusFailed, JobStatusCancelled:
		return false
	default:
		return false
	}
}
