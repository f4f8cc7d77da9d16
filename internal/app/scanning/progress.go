package scanning

import (
	"context"
	"sync"
	"time"

	"github.com/harborguard/scanhub/internal/domain/events"
	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

// Download progress is simulated because skopeo and docker save expose no
// byte-level progress. The tracker ticks linearly from downloadStartPct to
// downloadEndPct over a configured window; the scanning phase advances in
// discrete per-adapter steps driven by the executor.
const (
	downloadStartPct = 1
	downloadEndPct   = 55
	scanningEndPct   = 95
)

// ProgressTracker is the sole writer of job progress, step, and lifecycle
// state. Every change it applies is published as a ScanProgressEvent so any
// number of listeners (API pollers, the Kafka feed) observe the same stream.
type ProgressTracker struct {
	registry *scanning.JobRegistry
	bus      events.EventBus
	logger   *logger.Logger

	downloadWindow time.Duration

	mu     sync.Mutex
	timers map[string]*phaseTimer
}

// phaseTimer ties a phase goroutine to the registry entry it owns. A restart
// installs a fresh timer under the same request ID; the old goroutine's
// cleanup must not touch it.
type phaseTimer struct {
	cancel context.CancelFunc
}

// NewProgressTracker creates a tracker over the given job registry and bus.
// downloadWindow is how long the simulated download phase takes to reach its
// ceiling.
func NewProgressTracker(
	registry *scanning.JobRegistry,
	bus events.EventBus,
	downloadWindow time.Duration,
	log *logger.Logger,
) *ProgressTracker {
	return &ProgressTracker{
		registry:       registry,
		bus:            bus,
		logger:         log.With("component", "progress_tracker"),
		downloadWindow: downloadWindow,
		timers:         make(map[string]*phaseTimer),
	}
}

// UpdateProgress records progress and step for a job and publishes the
// resulting event. Progress never moves backwards; terminal jobs reject
// updates.
func (t *ProgressTracker) UpdateProgress(ctx context.Context, requestID string, progress int, step string) error {
	return t.mutateAndPublish(ctx, requestID, func(job *scanning.Job) error {
		return job.SetProgress(progress, step)
	})
}

// MarkRunning transitions the job to Running. Only queue admission calls this.
func (t *ProgressTracker) MarkRunning(ctx context.Context, requestID string) error {
	return t.mutateAndPublish(ctx, requestID, func(job *scanning.Job) error {
		return job.UpdateStatus(scanning.JobStatusRunning)
	})
}

// MarkCompleted transitions the job to Success and stops any running phase
// timer.
func (t *ProgressTracker) MarkCompleted(ctx context.Context, requestID string) error {
	t.StopPhase(requestID)
	return t.mutateAndPublish(ctx, requestID, func(job *scanning.Job) error {
		return job.Complete()
	})
}

// MarkFailed transitions the job to Failed with the given cause.
func (t *ProgressTracker) MarkFailed(ctx context.Context, requestID, message string) error {
	t.StopPhase(requestID)
	return t.mutateAndPublish(ctx, requestID, func(job *scanning.Job) error {
		return job.Fail(message)
	})
}

// MarkCancelled transitions the job to Cancelled.
func (t *ProgressTracker) MarkCancelled(ctx context.Context, requestID string) error {
	t.StopPhase(requestID)
	return t.mutateAndPublish(ctx, requestID, func(job *scanning.Job) error {
		return job.UpdateStatus(scanning.JobStatusCancelled)
	})
}

// StartDownloadPhase begins the simulated download ticker for a job. Calling
// it again for the same job replaces the previous ticker, so restarts are
// idempotent and each job has exactly one progress stream. The ticker stops
// itself when the job leaves Running or its ceiling is reached.
func (t *ProgressTracker) StartDownloadPhase(ctx context.Context, requestID string) {
	phaseCtx, cancel := context.WithCancel(ctx)
	timer := &phaseTimer{cancel: cancel}

	t.mu.Lock()
	if prev, ok := t.timers[requestID]; ok {
		prev.cancel()
	}
	t.timers[requestID] = timer
	t.mu.Unlock()

	span := downloadEndPct - downloadStartPct
	interval := t.downloadWindow / time.Duration(span)
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		defer t.releaseTimer(requestID, timer)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		current := downloadStartPct
		if err := t.UpdateProgress(phaseCtx, requestID, current, "Downloading image"); err != nil {
			return
		}

		for {
			select {
			case <-phaseCtx.Done():
				return
			case <-ticker.C:
				job, err := t.registry.Get(requestID)
				if err != nil || job.Status() != scanning.JobStatusRunning {
					return
				}
				current++
				if current >= downloadEndPct {
					return
				}
				if err := t.UpdateProgress(phaseCtx, requestID, current, "Downloading image"); err != nil {
					return
				}
			}
		}
	}()
}

// StopPhase cancels the job's phase timer if one is running. Safe to call
// when no timer exists.
func (t *ProgressTracker) StopPhase(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[requestID]; ok {
		timer.cancel()
		delete(t.timers, requestID)
	}
}

// releaseTimer removes the entry only while the caller's timer still owns it.
// After a restart the entry belongs to the new goroutine and stays.
func (t *ProgressTracker) releaseTimer(requestID string, timer *phaseTimer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timers[requestID] == timer {
		timer.cancel()
		delete(t.timers, requestID)
	}
}

func (t *ProgressTracker) mutateAndPublish(ctx context.Context, requestID string, fn func(*scanning.Job) error) error {
	var evt scanning.ScanProgressEvent
	err := t.registry.Mutate(requestID, func(job *scanning.Job) error {
		if err := fn(job); err != nil {
			return err
		}
		evt = scanning.NewScanProgressEvent(job)
		return nil
	})
	if err != nil {
		return err
	}

	if err := t.bus.Publish(ctx, evt.ToDomainEvent()); err != nil {
		t.logger.Warn(ctx, "failed to publish progress event", "request_id", requestID, "error", err)
	}
	return nil
}
