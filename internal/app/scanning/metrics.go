package scanning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OrchestrationMetrics defines the metrics operations the scan pipeline
// records.
type OrchestrationMetrics interface {
	IncScansStarted(ctx context.Context)
	IncScansCompleted(ctx context.Context, status string)
	ObserveScanDuration(ctx context.Context, duration time.Duration)
	SetQueueDepth(ctx context.Context, queued, running int)
}

type orchestrationMetrics struct {
	scansStarted   metric.Int64Counter
	scansCompleted metric.Int64Counter
	scanDuration   metric.Float64Histogram
	queueDepth     metric.Int64Gauge
	runningScans   metric.Int64Gauge
}

const namespace = "scan_orchestrator"

// NewOrchestrationMetrics creates the pipeline metrics instruments.
func NewOrchestrationMetrics(mp metric.MeterProvider) (OrchestrationMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(orchestrationMetrics)
	var err error

	if m.scansStarted, err = meter.Int64Counter(
		"scans_started_total",
		metric.WithDescription("Total number of scans admitted to run"),
	); err != nil {
		return nil, err
	}

	if m.scansCompleted, err = meter.Int64Counter(
		"scans_completed_total",
		metric.WithDescription("Total number of scans reaching a terminal state"),
	); err != nil {
		return nil, err
	}

	if m.scanDuration, err = meter.Float64Histogram(
		"scan_duration_seconds",
		metric.WithDescription("End-to-end scan execution time"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.queueDepth, err = meter.Int64Gauge(
		"scan_queue_depth",
		metric.WithDescription("Number of scans waiting for a slot"),
	); err != nil {
		return nil, err
	}

	if m.runningScans, err = meter.Int64Gauge(
		"scans_running",
		metric.WithDescription("Number of scans currently executing"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *orchestrationMetrics) IncScansStarted(ctx context.Context) {
	m.scansStarted.Add(ctx, 1)
}

func (m *orchestrationMetrics) IncScansCompleted(ctx context.Context, status string) {
	m.scansCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *orchestrationMetrics) ObserveScanDuration(ctx context.Context, duration time.Duration) {
	m.scanDuration.Record(ctx, duration.Seconds())
}

func (m *orchestrationMetrics) SetQueueDepth(ctx context.Context, queued, running int) {
	m.queueDepth.Record(ctx, int64(queued))
	m.runningScans.Record(ctx, int64(running))
}
