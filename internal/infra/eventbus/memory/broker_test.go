package memory

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborguard/scanhub/internal/domain/events"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

func newBroker() *Broker {
	return NewBroker(logger.New(io.Discard, logger.LevelDebug, "test", nil))
}

type recorder struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (r *recorder) handle(_ context.Context, evt events.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestBrokerDeliversToMatchingSubscribers(t *testing.T) {
	t.Parallel()

	broker := newBroker()
	ctx := context.Background()

	scans := &recorder{}
	patches := &recorder{}
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{events.EventTypeScanStarted}, scans.handle))
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{events.EventTypePatchCompleted}, patches.handle))

	require.NoError(t, broker.Publish(ctx, events.DomainEvent{Type: events.EventTypeScanStarted, Key: "scan-1"}))

	assert.Equal(t, 1, scans.count())
	assert.Zero(t, patches.count(), "handlers only see their subscribed types")
}

func TestBrokerRejectsNilHandler(t *testing.T) {
	t.Parallel()

	broker := newBroker()
	err := broker.Subscribe(context.Background(), []events.EventType{events.EventTypeScanStarted}, nil)
	assert.Error(t, err)
}

func TestBrokerUnsubscribesOnContextCancel(t *testing.T) {
	t.Parallel()

	broker := newBroker()
	subCtx, cancel := context.WithCancel(context.Background())

	rec := &recorder{}
	require.NoError(t, broker.Subscribe(subCtx, []events.EventType{events.EventTypeScanStarted}, rec.handle))

	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, events.DomainEvent{Type: events.EventTypeScanStarted}))
	require.Equal(t, 1, rec.count())

	cancel()

	// Removal happens on a background goroutine.
	require.Eventually(t, func() bool {
		_ = broker.Publish(ctx, events.DomainEvent{Type: events.EventTypeScanStarted})
		return rec.count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBrokerIsolatesFailingHandlers(t *testing.T) {
	t.Parallel()

	broker := newBroker()
	ctx := context.Background()

	require.NoError(t, broker.Subscribe(ctx, []events.EventType{events.EventTypeScanCompleted},
		func(context.Context, events.DomainEvent) error { panic("boom") }))
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{events.EventTypeScanCompleted},
		func(context.Context, events.DomainEvent) error { return assert.AnError }))

	rec := &recorder{}
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{events.EventTypeScanCompleted}, rec.handle))

	require.NoError(t, broker.Publish(ctx, events.DomainEvent{Type: events.EventTypeScanCompleted}))
	assert.Equal(t, 1, rec.count(), "panicking and erroring handlers do not block delivery")
}

func TestBrokerPublishAfterClose(t *testing.T) {
	t.Parallel()

	broker := newBroker()
	ctx := context.Background()

	rec := &recorder{}
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{events.EventTypeScanStarted}, rec.handle))
	require.NoError(t, broker.Close())

	require.NoError(t, broker.Publish(ctx, events.DomainEvent{Type: events.EventTypeScanStarted}))
	assert.Zero(t, rec.count())
}

func TestBrokerPublishCancelledContext(t *testing.T) {
	t.Parallel()

	broker := newBroker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := broker.Publish(ctx, events.DomainEvent{Type: events.EventTypeScanStarted})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBrokerConcurrentPublish(t *testing.T) {
	t.Parallel()

	broker := newBroker()
	ctx := context.Background()

	rec := &recorder{}
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{events.EventTypeScanProgressUpdated}, rec.handle))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = broker.Publish(ctx, events.DomainEvent{Type: events.EventTypeScanProgressUpdated})
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, rec.count())
}
