package scanning

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job tracks the execution of a single scan request from submission to its
// terminal state. It carries the externally visible request ID, the persisted
// scan ID, and live progress information. Jobs are owned by the job registry;
// all mutation goes through the registry's single-writer discipline.
type Job struct {
	requestID    string
	scanID       uuid.UUID
	imageID      uuid.UUID
	status       JobStatus
	progress     int
	step         string
	errorMessage string
	timeline     *Timeline
}

// NewJob creates a new Job in Pending state for the given request and scan
// identifiers.
func NewJob(requestID string, scanID, imageID uuid.UUID) *Job {
	return &Job{
		requestID: requestID,
		scanID:    scanID,
		imageID:   imageID,
		status:    JobStatusPending,
		timeline:  NewTimeline(new(realTimeProvider)),
	}
}

// ReconstructJob creates a Job instance from stored fields, bypassing creation
// invariants. This should only be used when loading from storage.
func ReconstructJob(
	requestID string,
	scanID, imageID uuid.UUID,
	status JobStatus,
	progress int,
	step, errorMessage string,
	timeline *Timeline,
) *Job {
	return &Job{
		requestID:    requestID,
		scanID:       scanID,
		imageID:      imageID,
		status:       status,
		progress:     progress,
		step:         step,
		errorMessage: errorMessage,
		timeline:     timeline,
	}
}

// RequestID returns the external handle clients use to reference this job.
func (j *Job) RequestID() string { return j.requestID }

// ScanID returns the identifier of the backing scan persistence row.
func (j *Job) ScanID() uuid.UUID { return j.scanID }

// ImageID returns the identifier of the image this job scans.
func (j *Job) ImageID() uuid.UUID { return j.imageID }

// Status returns the current execution status of the scan job.
func (j *Job) Status() JobStatus { return j.status }

// Progress returns the current progress percentage in [0,100].
func (j *Job) Progress() int { return j.progress }

// Step returns the human-readable label of the current execution step.
func (j *Job) Step() string { return j.step }

// ErrorMessage returns the stored failure cause, empty unless the job failed.
func (j *Job) ErrorMessage() string { return j.errorMessage }

// QueuedAt returns when this job was submitted.
func (j *Job) QueuedAt() time.Time { return j.timeline.QueuedAt() }

// StartTime returns when this job was admitted to run.
func (j *Job) StartTime() time.Time { return j.timeline.StartedAt() }

// EndTime returns when this job completed, if it reached a terminal state.
func (j *Job) EndTime() (time.Time, bool) {
	if j.status.IsTerminal() {
		return j.timeline.CompletedAt(), true
	}
	return time.Time{}, false
}

// LastUpdateTime returns when this job's state was last modified.
func (j *Job) LastUpdateTime() time.Time { return j.timeline.LastUpdate() }

// UpdateStatus changes the job's status after validating the transition.
// It returns an error if the transition is not valid.
func (j *Job) UpdateStatus(newStatus JobStatus) error {
	if err := j.status.validateTransition(newStatus); err != nil {
		return err
	}

	// Mark the start time when leaving Pending; this is the moment the queue
	// admitted the job, not when it was submitted.
	if j.status == JobStatusPending && newStatus == JobStatusRunning {
		j.timeline.MarkStarted()
	}

	if newStatus.IsTerminal() {
		j.timeline.MarkCompleted()
	}

	j.status = newStatus
	j.timeline.UpdateLastUpdate()
	return nil
}

// SetProgress records the current progress percentage and step label.
// Progress is clamped to [0,100] and never moves backwards. Terminal jobs
// reject further progress updates.
func (j *Job) SetProgress(progress int, step string) error {
	if j.status.IsTerminal() {
		return fmt.Errorf("cannot update progress: job %s is in terminal state %s", j.requestID, j.status)
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress > j.progress {
		j.progress = progress
	}
	if step != "" {
		j.step = step
	}
	j.timeline.UpdateLastUpdate()
	return nil
}

// Fail transitions the job to Failed and stores the causing error message.
func (j *Job) Fail(message string) error {
	if err := j.UpdateStatus(JobStatusFailed); err != nil {
		return err
	}
	j.errorMessage = message
	return nil
}

// Complete transitions the job to Success and forces progress to 100.
func (j *Job) Complete() error {
	if err := j.UpdateStatus(JobStatusSuccess); err != nil {
		return err
	}
	j.progress = 100
	j.step = "Completed"
	return nil
}
