package scanning

import (
	"context"
	"sort"
	"sync"

	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

// defaultHistorySize bounds how many completed entries the queue retains for
// stats before evicting the oldest.
const defaultHistorySize = 100

// StartFunc runs an admitted scan. The queue invokes it on a fresh goroutine;
// the callee must call Complete when the scan finishes so the slot is freed.
type StartFunc func(entry *scanning.QueuedScan)

// Queue admits scans under a fixed concurrency limit, ordered by priority
// (descending) then submission time. Every entry is in exactly one of three
// places: queued, running, or the bounded history.
type Queue struct {
	maxConcurrent int
	historySize   int
	start         StartFunc
	tracker       *ProgressTracker
	logger        *logger.Logger

	mu      sync.Mutex
	queued  []*scanning.QueuedScan
	running map[string]*scanning.QueuedScan
	history []*scanning.QueuedScan

	// admitting marks a pass in flight; admitPending records triggers that
	// arrived while it was draining so the pass re-checks before exiting.
	admitting    bool
	admitPending bool
}

// NewQueue creates a scan queue admitting at most maxConcurrent jobs at once.
func NewQueue(maxConcurrent int, start StartFunc, tracker *ProgressTracker, log *logger.Logger) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		maxConcurrent: maxConcurrent,
		historySize:   defaultHistorySize,
		start:         start,
		tracker:       tracker,
		logger:        log.With("component", "scan_queue"),
		running:       make(map[string]*scanning.QueuedScan),
	}
}

// Enqueue adds an entry and triggers an admission pass. Returns
// ErrQueueDuplicate when the request ID is already queued or running.
func (q *Queue) Enqueue(ctx context.Context, entry *scanning.QueuedScan) error {
	q.mu.Lock()
	if q.contains(entry.RequestID()) {
		q.mu.Unlock()
		return scanning.ErrQueueDuplicate
	}

	q.queued = append(q.queued, entry)
	// Stable sort keeps FIFO order within a priority band.
	sort.SliceStable(q.queued, func(i, j int) bool {
		if q.queued[i].Priority() != q.queued[j].Priority() {
			return q.queued[i].Priority() > q.queued[j].Priority()
		}
		return q.queued[i].QueuedAt().Before(q.queued[j].QueuedAt())
	})
	q.mu.Unlock()

	q.logger.Info(ctx, "scan queued",
		"request_id", entry.RequestID(), "priority", entry.Priority())

	q.admit(ctx)
	return nil
}

// Complete moves a running entry to history and triggers a new admission
// pass. Unknown request IDs are ignored so late completions after a cancel
// are harmless.
func (q *Queue) Complete(ctx context.Context, requestID string, failed bool) {
	q.mu.Lock()
	entry, ok := q.running[requestID]
	if ok {
		delete(q.running, requestID)
		entry.MarkCompleted(failed)
		q.history = append(q.history, entry)
		if len(q.history) > q.historySize {
			q.history = q.history[len(q.history)-q.historySize:]
		}
	}
	q.mu.Unlock()

	if ok {
		q.admit(ctx)
	}
}

// Cancel removes a queued entry and reports whether it did. Running entries
// are left alone: cancellation of in-flight work is cooperative and handled
// by the orchestration service.
func (q *Queue) Cancel(ctx context.Context, requestID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, entry := range q.queued {
		if entry.RequestID() == requestID {
			q.queued = append(q.queued[:i], q.queued[i+1:]...)
			entry.MarkCompleted(false)
			q.history = append(q.history, entry)
			if len(q.history) > q.historySize {
				q.history = q.history[len(q.history)-q.historySize:]
			}
			return true
		}
	}
	return false
}

// Position returns the 1-based queue position of a waiting entry, or 0 when
// the entry is not queued.
func (q *Queue) Position(requestID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, entry := range q.queued {
		if entry.RequestID() == requestID {
			return i + 1
		}
	}
	return 0
}

// Stats returns a point-in-time occupancy snapshot.
func (q *Queue) Stats() scanning.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return scanning.QueueStats{
		Queued:         len(q.queued),
		Running:        len(q.running),
		MaxConcurrent:  q.maxConcurrent,
		RecentComplete: len(q.history),
	}
}

// admit pops queued entries into running slots until the limit is reached.
// The admitting flag keeps one pass in flight at a time; Enqueue and
// Complete both call admit, and an admission pass itself flips job state
// which can re-enter through event listeners. A trigger that arrives while a
// pass is draining sets admitPending, and the pass replays its check before
// clearing the flag so no entry is stranded with free slots.
func (q *Queue) admit(ctx context.Context) {
	q.mu.Lock()
	if q.admitting {
		q.admitPending = true
		q.mu.Unlock()
		return
	}
	q.admitting = true
	q.mu.Unlock()

	for {
		q.mu.Lock()
		if len(q.queued) == 0 || len(q.running) >= q.maxConcurrent {
			if q.admitPending {
				q.admitPending = false
				q.mu.Unlock()
				continue
			}
			q.admitting = false
			q.mu.Unlock()
			return
		}
		entry := q.queued[0]
		q.queued = q.queued[1:]
		entry.MarkStarted()
		q.running[entry.RequestID()] = entry
		q.mu.Unlock()

		if err := q.tracker.MarkRunning(ctx, entry.RequestID()); err != nil {
			// The job was cancelled between queueing and admission; free the
			// slot and keep admitting.
			q.logger.Warn(ctx, "admitted job refused Running transition",
				"request_id", entry.RequestID(), "error", err)
			q.mu.Lock()
			delete(q.running, entry.RequestID())
			q.mu.Unlock()
			continue
		}

		q.logger.Info(ctx, "scan admitted",
			"request_id", entry.RequestID(),
			"waited", entry.WaitDuration().String())

		go q.start(entry)
	}
}

// contains reports whether the request ID is queued or running. Caller holds
// the queue mutex.
func (q *Queue) contains(requestID string) bool {
	if _, ok := q.running[requestID]; ok {
		return true
	}
	for _, entry := range q.queued {
		if entry.RequestID() == requestID {
			return true
		}
	}
	return false
}
