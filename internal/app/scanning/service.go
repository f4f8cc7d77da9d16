// Package scanning orchestrates the scan pipeline: request validation, image
// deduplication, queue admission under a concurrency limit, execution through
// the scanner adapters, and result handoff to the normalizer.
package scanning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/internal/infra/registry"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

// ResultProcessor normalizes a completed scan's raw reports and returns the
// aggregate risk score and compliance grade. Implemented by the reporting
// service.
type ResultProcessor interface {
	ProcessScan(ctx context.Context, scanID uuid.UUID, reports *scanning.ScanReports) (riskScore int, grade string, err error)
}

// EnqueueResult is returned from StartScan once the request is accepted.
type EnqueueResult struct {
	RequestID     string
	ScanID        uuid.UUID
	Queued        bool
	QueuePosition int
}

// Service is the scan orchestration entry point. It owns the job registry,
// the queue, and the per-job execution goroutines; callers interact only
// through its methods and the event bus.
type Service struct {
	validate  *validator.Validate
	registry  *scanning.JobRegistry
	queue     *Queue
	tracker   *ProgressTracker
	executor  *Executor
	processor ResultProcessor
	images    scanning.ImageRepository
	scans     scanning.ScanRepository
	client    *registry.Client
	metrics   OrchestrationMetrics
	logger    *logger.Logger
	tracer    trace.Tracer

	// baseCtx parents every per-job context so shutdown cancels all
	// in-flight scans.
	baseCtx context.Context

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewService wires the orchestration service. The queue is created here so
// its admission callback closes over the service's run loop.
func NewService(
	ctx context.Context,
	jobRegistry *scanning.JobRegistry,
	tracker *ProgressTracker,
	executor *Executor,
	processor ResultProcessor,
	images scanning.ImageRepository,
	scans scanning.ScanRepository,
	client *registry.Client,
	maxConcurrent int,
	metrics OrchestrationMetrics,
	log *logger.Logger,
	tracer trace.Tracer,
) *Service {
	svc := &Service{
		validate:  validator.New(),
		registry:  jobRegistry,
		tracker:   tracker,
		executor:  executor,
		processor: processor,
		images:    images,
		scans:     scans,
		client:    client,
		metrics:   metrics,
		logger:    log.With("component", "scan_service"),
		tracer:    tracer,
		baseCtx:   ctx,
		cancels:   make(map[string]context.CancelFunc),
	}
	svc.queue = NewQueue(maxConcurrent, svc.runScan, tracker, log)
	return svc
}

// StartScan validates the request, resolves or creates the image row by
// digest, creates the scan row, and enqueues a Pending job. It returns as
// soon as the job is queued; execution is asynchronous.
func (s *Service) StartScan(ctx context.Context, req scanning.ScanRequest, priority int) (*EnqueueResult, error) {
	ctx, span := s.tracer.Start(ctx, "scan_service.start_scan",
		trace.WithAttributes(attribute.String("image_ref", req.ImageRef())))
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid scan request: %w", err)
	}

	dgst, err := s.resolveDigest(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "digest resolution failed")
		return nil, err
	}

	image, err := s.findOrCreateImage(ctx, req, dgst)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	requestID := newRequestID()
	scan := scanning.NewScan(requestID, image.ID())
	if err := s.scans.CreateScan(ctx, scan); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("creating scan row: %w", err)
	}

	job := scanning.NewJob(requestID, scan.ID(), image.ID())
	if err := s.registry.Register(job); err != nil {
		return nil, fmt.Errorf("registering job: %w", err)
	}

	entry := scanning.NewQueuedScan(job, req, priority)
	if err := s.queue.Enqueue(ctx, entry); err != nil {
		return nil, err
	}

	stats := s.queue.Stats()
	s.metrics.SetQueueDepth(ctx, stats.Queued, stats.Running)

	s.logger.Info(ctx, "scan submitted",
		"request_id", requestID,
		"scan_id", scan.ID().String(),
		"image_ref", req.ImageRef(),
		"digest", dgst.String())

	return &EnqueueResult{
		RequestID:     requestID,
		ScanID:        scan.ID(),
		Queued:        true,
		QueuePosition: s.queue.Position(requestID),
	}, nil
}

// CancelScan cancels a queued or running scan. It returns false when the
// request ID is unknown or the job is already terminal. Cancellation of a
// running job is cooperative: the per-job context is cancelled and the slot
// freed, but an external process already in flight runs to its own timeout.
func (s *Service) CancelScan(ctx context.Context, requestID string) bool {
	job, err := s.registry.Get(requestID)
	if err != nil || job.Status().IsTerminal() {
		return false
	}

	if s.queue.Cancel(ctx, requestID) {
		s.finishJob(ctx, requestID, scanning.JobStatusCancelled, "")
		return true
	}

	// Running: cancel the job context, flip state, free the slot. The run
	// goroutine observes the terminal state and skips its own completion.
	s.mu.Lock()
	cancel, ok := s.cancels[requestID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()

	s.finishJob(ctx, requestID, scanning.JobStatusCancelled, "")
	s.queue.Complete(ctx, requestID, false)
	return true
}

// Job returns the live job for a request ID.
func (s *Service) Job(requestID string) (*scanning.Job, error) {
	return s.registry.Get(requestID)
}

// Jobs returns a snapshot of all jobs the process knows about.
func (s *Service) Jobs() []*scanning.Job { return s.registry.All() }

// QueueStats returns queue occupancy.
func (s *Service) QueueStats() scanning.QueueStats { return s.queue.Stats() }

// runScan is the queue's admission callback. It runs on a per-job goroutine.
func (s *Service) runScan(entry *scanning.QueuedScan) {
	requestID := entry.RequestID()

	jobCtx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	s.cancels[requestID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, requestID)
		s.mu.Unlock()
	}()

	ctx, span := s.tracer.Start(jobCtx, "scan_service.run_scan",
		trace.WithAttributes(attribute.String("request_id", requestID)))
	defer span.End()

	s.metrics.IncScansStarted(ctx)
	start := time.Now()

	s.persistScanStatus(ctx, entry.Job().ScanID(), scanning.JobStatusRunning, "")

	reports, err := s.executor.Execute(ctx, entry)

	// A cooperative cancel may have landed while the executor ran; in that
	// case the job is already terminal and the slot already freed.
	if job, gerr := s.registry.Get(requestID); gerr == nil && job.Status().IsTerminal() {
		s.metrics.IncScansCompleted(ctx, string(job.Status()))
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan execution failed")
		s.finishJob(ctx, requestID, scanning.JobStatusFailed, err.Error())
		s.queue.Complete(ctx, requestID, true)
		s.metrics.IncScansCompleted(ctx, string(scanning.JobStatusFailed))
		return
	}

	if err := s.scans.SaveReports(ctx, reports); err != nil {
		s.logger.Error(ctx, "failed to persist raw reports",
			"request_id", requestID, "error", err)
	}

	riskScore, grade, err := s.processor.ProcessScan(ctx, entry.Job().ScanID(), reports)
	if err != nil {
		span.RecordError(err)
		s.finishJob(ctx, requestID, scanning.JobStatusFailed, fmt.Sprintf("normalizing results: %v", err))
		s.queue.Complete(ctx, requestID, true)
		s.metrics.IncScansCompleted(ctx, string(scanning.JobStatusFailed))
		return
	}

	if scan, gerr := s.scans.GetScan(ctx, entry.Job().ScanID()); gerr == nil {
		scan.SetScores(riskScore, grade)
		if serr := scan.SetStatus(scanning.JobStatusSuccess, ""); serr == nil {
			if uerr := s.scans.UpdateScan(ctx, scan); uerr != nil {
				s.logger.Error(ctx, "failed to persist scan completion",
					"request_id", requestID, "error", uerr)
			}
		}
	}

	if err := s.tracker.MarkCompleted(ctx, requestID); err != nil {
		s.logger.Warn(ctx, "failed to mark job completed", "request_id", requestID, "error", err)
	}
	s.queue.Complete(ctx, requestID, false)
	s.metrics.IncScansCompleted(ctx, string(scanning.JobStatusSuccess))
	s.metrics.ObserveScanDuration(ctx, time.Since(start))

	s.logger.Info(ctx, "scan completed",
		"request_id", requestID,
		"risk_score", riskScore,
		"grade", grade,
		"duration", time.Since(start).String())
}

// finishJob flips the live job and the persisted scan row to a terminal
// state, tolerating jobs that already reached one.
func (s *Service) finishJob(ctx context.Context, requestID string, status scanning.JobStatus, message string) {
	var scanID uuid.UUID
	if job, err := s.registry.Get(requestID); err == nil {
		scanID = job.ScanID()
	}

	var err error
	switch status {
	case scanning.JobStatusFailed:
		err = s.tracker.MarkFailed(ctx, requestID, message)
	case scanning.JobStatusCancelled:
		err = s.tracker.MarkCancelled(ctx, requestID)
	default:
		err = s.tracker.MarkCompleted(ctx, requestID)
	}
	if err != nil {
		s.logger.Warn(ctx, "terminal transition rejected",
			"request_id", requestID, "target", string(status), "error", err)
		return
	}

	if scanID != uuid.Nil {
		s.persistScanStatus(ctx, scanID, status, message)
	}
}

func (s *Service) persistScanStatus(ctx context.Context, scanID uuid.UUID, status scanning.JobStatus, message string) {
	scan, err := s.scans.GetScan(ctx, scanID)
	if err != nil {
		s.logger.Warn(ctx, "scan row not found for status update", "scan_id", scanID.String(), "error", err)
		return
	}
	if err := scan.SetStatus(status, message); err != nil {
		return
	}
	if err := s.scans.UpdateScan(ctx, scan); err != nil {
		s.logger.Error(ctx, "failed to persist scan status",
			"scan_id", scanID.String(), "status", string(status), "error", err)
	}
}

func (s *Service) resolveDigest(ctx context.Context, req scanning.ScanRequest) (digest.Digest, error) {
	if req.SourceType() == scanning.ImageSourceLocal {
		return s.client.ResolveLocalDigest(ctx, req.ImageRef())
	}
	return s.client.ResolveDigest(ctx, req.ImageRef())
}

func (s *Service) findOrCreateImage(ctx context.Context, req scanning.ScanRequest, dgst digest.Digest) (*scanning.Image, error) {
	image, err := s.images.FindImageByDigest(ctx, dgst)
	if err == nil {
		return image, nil
	}
	if !errors.Is(err, scanning.ErrImageNotFound) {
		return nil, fmt.Errorf("looking up image by digest: %w", err)
	}

	image = scanning.NewImage(req.Image, req.Tag, dgst, req.SourceType())
	if err := s.images.CreateImage(ctx, image); err != nil {
		return nil, fmt.Errorf("creating image row: %w", err)
	}
	return image, nil
}

// newRequestID builds the external scan handle. Time-prefixed so handles
// sort chronologically in logs and dashboards.
func newRequestID() string {
	return fmt.Sprintf("scan-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
