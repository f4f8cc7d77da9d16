package scanning

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborguard/scanhub/internal/domain/events"
	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/internal/infra/eventbus/memory"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

// eventCollector records every domain event delivered to it.
type eventCollector struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (c *eventCollector) handle(_ context.Context, evt events.DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *eventCollector) all() []events.DomainEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.DomainEvent(nil), c.events...)
}

func setupTracker(t *testing.T, downloadWindow time.Duration) (*scanning.JobRegistry, *ProgressTracker, *eventCollector) {
	t.Helper()

	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	registry := scanning.NewJobRegistry()
	bus := memory.NewBroker(log)

	collector := &eventCollector{}
	err := bus.Subscribe(context.Background(), []events.EventType{
		events.EventTypeScanStarted,
		events.EventTypeScanProgressUpdated,
		events.EventTypeScanCompleted,
		events.EventTypeScanCancelled,
	}, collector.handle)
	require.NoError(t, err)

	return registry, NewProgressTracker(registry, bus, downloadWindow, log), collector
}

func TestProgressTrackerPublishesUpdates(t *testing.T) {
	t.Parallel()

	registry, tracker, collector := setupTracker(t, time.Minute)
	job := scanning.NewJob("scan-1", uuid.New(), uuid.New())
	require.NoError(t, registry.Register(job))

	ctx := context.Background()
	require.NoError(t, tracker.MarkRunning(ctx, "scan-1"))
	require.NoError(t, tracker.UpdateProgress(ctx, "scan-1", 60, "Scanning with trivy"))
	require.NoError(t, tracker.MarkCompleted(ctx, "scan-1"))

	got := collector.all()
	require.Len(t, got, 3)

	assert.Equal(t, events.EventTypeScanStarted, got[0].Type)
	assert.Equal(t, events.EventTypeScanProgressUpdated, got[1].Type)
	assert.Equal(t, events.EventTypeScanCompleted, got[2].Type)

	payload, ok := got[1].Payload.(scanning.ScanProgressEvent)
	require.True(t, ok)
	assert.Equal(t, "scan-1", payload.RequestID)
	assert.Equal(t, 60, payload.Progress)
	assert.Equal(t, "Scanning with trivy", payload.Step)

	// Events are keyed by request ID for partitioned transports.
	assert.Equal(t, "scan-1", got[0].Key)
}

func TestProgressTrackerRejectsUnknownJob(t *testing.T) {
	t.Parallel()

	_, tracker, _ := setupTracker(t, time.Minute)

	err := tracker.UpdateProgress(context.Background(), "nope", 10, "step")
	assert.ErrorIs(t, err, scanning.ErrJobNotFound)
}

func TestProgressTrackerMarkFailedStoresCause(t *testing.T) {
	t.Parallel()

	registry, tracker, collector := setupTracker(t, time.Minute)
	job := scanning.NewJob("scan-1", uuid.New(), uuid.New())
	require.NoError(t, registry.Register(job))

	ctx := context.Background()
	require.NoError(t, tracker.MarkRunning(ctx, "scan-1"))
	require.NoError(t, tracker.MarkFailed(ctx, "scan-1", "image acquisition failed"))

	assert.Equal(t, scanning.JobStatusFailed, job.Status())
	assert.Equal(t, "image acquisition failed", job.ErrorMessage())

	// Terminal jobs reject further updates.
	assert.Error(t, tracker.UpdateProgress(ctx, "scan-1", 99, "late"))

	got := collector.all()
	require.NotEmpty(t, got)
	assert.Equal(t, events.EventTypeScanCompleted, got[len(got)-1].Type)
}

func TestDownloadPhaseAdvancesAndStops(t *testing.T) {
	t.Parallel()

	registry, tracker, _ := setupTracker(t, 100*time.Millisecond)
	job := scanning.NewJob("scan-1", uuid.New(), uuid.New())
	require.NoError(t, registry.Register(job))

	ctx := context.Background()
	require.NoError(t, tracker.MarkRunning(ctx, "scan-1"))

	tracker.StartDownloadPhase(ctx, "scan-1")

	require.Eventually(t, func() bool {
		return job.Progress() > 10
	}, 2*time.Second, 5*time.Millisecond)

	// The ticker never crosses the download ceiling.
	require.Eventually(t, func() bool {
		return job.Progress() >= downloadEndPct-1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Less(t, job.Progress(), downloadEndPct)
}

func TestDownloadPhaseStopsWhenJobLeavesRunning(t *testing.T) {
	t.Parallel()

	registry, tracker, _ := setupTracker(t, 50*time.Millisecond)
	job := scanning.NewJob("scan-1", uuid.New(), uuid.New())
	require.NoError(t, registry.Register(job))

	ctx := context.Background()
	require.NoError(t, tracker.MarkRunning(ctx, "scan-1"))

	tracker.StartDownloadPhase(ctx, "scan-1")
	require.NoError(t, tracker.MarkCancelled(ctx, "scan-1"))

	snapshot := job.Progress()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, snapshot, job.Progress())
}

func TestDownloadPhaseRestartIsIdempotent(t *testing.T) {
	t.Parallel()

	registry, tracker, _ := setupTracker(t, time.Minute)
	job := scanning.NewJob("scan-1", uuid.New(), uuid.New())
	require.NoError(t, registry.Register(job))

	ctx := context.Background()
	require.NoError(t, tracker.MarkRunning(ctx, "scan-1"))

	// Restarting replaces the previous timer rather than stacking tickers.
	tracker.StartDownloadPhase(ctx, "scan-1")
	tracker.StartDownloadPhase(ctx, "scan-1")
	tracker.StopPhase("scan-1")

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	assert.Empty(t, tracker.timers)
}

func TestDownloadPhaseSurvivesRestart(t *testing.T) {
	t.Parallel()

	registry, tracker, _ := setupTracker(t, 200*time.Millisecond)
	job := scanning.NewJob("scan-1", uuid.New(), uuid.New())
	require.NoError(t, registry.Register(job))

	ctx := context.Background()
	require.NoError(t, tracker.MarkRunning(ctx, "scan-1"))

	// The replaced goroutine's cleanup must not tear down the new ticker.
	tracker.StartDownloadPhase(ctx, "scan-1")
	time.Sleep(10 * time.Millisecond)
	tracker.StartDownloadPhase(ctx, "scan-1")

	require.Eventually(t, func() bool {
		return job.Progress() > 20
	}, 2*time.Second, 5*time.Millisecond, "progress froze after restart")
}
