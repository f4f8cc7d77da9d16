package scanning

import "time"

// QueuedScan wraps a job while it waits for, holds, or has released a
// concurrency slot. The queue orders entries by (priority desc, queuedAt asc)
// and retains completed entries briefly for stats before eviction.
type QueuedScan struct {
	job      *Job
	request  ScanRequest
	priority int
	queuedAt time.Time

	startedAt   *time.Time
	completedAt *time.Time
	failed      bool
}

// NewQueuedScan creates a queue entry for the given job and request payload.
func NewQueuedScan(job *Job, request ScanRequest, priority int) *QueuedScan {
	return &QueuedScan{
		job:      job,
		request:  request,
		priority: priority,
		queuedAt: time.Now().UTC(),
	}
}

func (q *QueuedScan) Job() *Job           { return q.job }
func (q *QueuedScan) Request() ScanRequest { return q.request }
func (q *QueuedScan) Priority() int       { return q.priority }
func (q *QueuedScan) QueuedAt() time.Time { return q.queuedAt }

// RequestID returns the job's external handle.
func (q *QueuedScan) RequestID() string { return q.job.RequestID() }

// StartedAt returns the admission time, if the entry has been admitted.
func (q *QueuedScan) StartedAt() (time.Time, bool) {
	if q.startedAt == nil {
		return time.Time{}, false
	}
	return *q.startedAt, true
}

// CompletedAt returns the completion time, if the entry has completed.
func (q *QueuedScan) CompletedAt() (time.Time, bool) {
	if q.completedAt == nil {
		return time.Time{}, false
	}
	return *q.completedAt, true
}

// Failed reports whether the entry completed with an error.
func (q *QueuedScan) Failed() bool { return q.failed }

// MarkStarted records queue admission.
func (q *QueuedScan) MarkStarted() {
	now := time.Now().UTC()
	q.startedAt = &now
}

// MarkCompleted records completion and whether it failed.
func (q *QueuedScan) MarkCompleted(failed bool) {
	now := time.Now().UTC()
	q.completedAt = &now
	q.failed = failed
}

// WaitDuration returns how long the entry waited before admission, or the
// time waited so far for entries still queued.
func (q *QueuedScan) WaitDuration() time.Duration {
	if q.startedAt != nil {
		return q.startedAt.Sub(q.queuedAt)
	}
	return time.Since(q.queuedAt)
}

// QueueStats is a point-in-time snapshot of queue occupancy.
type QueueStats struct {
	Queued         int
	Running        int
	MaxConcurrent  int
	RecentComplete int
}
