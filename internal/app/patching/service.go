// Package patching executes patch operations: planning fixes from a scan's
// findings, applying them in a buildah working container, and publishing the
// patched image. Each operation is an independent sequential pipeline; the
// only state shared with the scan side goes through repositories.
package patching

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	appscanning "github.com/harborguard/scanhub/internal/app/scanning"
	"github.com/harborguard/scanhub/internal/domain/events"
	"github.com/harborguard/scanhub/internal/domain/patching"
	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/internal/infra/container"
	"github.com/harborguard/scanhub/internal/infra/registry"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

// Rescanner re-enqueues a patched image through the scan pipeline, closing
// the patch-verify loop. Implemented by the scan orchestration service.
type Rescanner interface {
	StartScan(ctx context.Context, req scanning.ScanRequest, priority int) (*appscanning.EnqueueResult, error)
}

// ArchiveLocator returns the scan executor's cached archive path for a scan
// request and digest, so a patch operation can reuse an archive the scan
// already pulled.
type ArchiveLocator func(requestID, dgst string) string

// Service runs patch operations.
type Service struct {
	validate   *validator.Validate
	ops        patching.OperationRepository
	findings   scanning.FindingRepository
	scans      scanning.ScanRepository
	images     scanning.ImageRepository
	client     *registry.Client
	containers *container.Manager
	strategies map[patching.PackageManager]patching.PatchStrategy
	locator    ArchiveLocator
	rescanner  Rescanner
	bus        events.EventBus

	workDir     string
	verifyDelay time.Duration

	baseCtx context.Context
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewService wires the patch service. strategies maps package-manager
// families to their remediation implementations; families missing from the
// map fail their whole group at patch time.
func NewService(
	ctx context.Context,
	ops patching.OperationRepository,
	findings scanning.FindingRepository,
	scans scanning.ScanRepository,
	images scanning.ImageRepository,
	client *registry.Client,
	containers *container.Manager,
	strategies map[patching.PackageManager]patching.PatchStrategy,
	locator ArchiveLocator,
	rescanner Rescanner,
	bus events.EventBus,
	workDir string,
	verifyDelay time.Duration,
	log *logger.Logger,
	tracer trace.Tracer,
) *Service {
	return &Service{
		validate:    validator.New(),
		ops:         ops,
		findings:    findings,
		scans:       scans,
		images:      images,
		client:      client,
		containers:  containers,
		strategies:  strategies,
		locator:     locator,
		rescanner:   rescanner,
		bus:         bus,
		workDir:     workDir,
		verifyDelay: verifyDelay,
		baseCtx:     ctx,
		logger:      log.With("component", "patch_service"),
		tracer:      tracer,
	}
}

// StartPatch validates the request, creates the operation row, and launches
// the pipeline on its own goroutine. The returned operation is in Pending
// state; progress is observable through GetOperation and the event bus.
func (s *Service) StartPatch(ctx context.Context, req patching.Request) (*patching.Operation, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid patch request: %w", err)
	}

	scan, err := s.scans.GetScan(ctx, req.ScanID)
	if err != nil {
		return nil, fmt.Errorf("loading scan %s: %w", req.ScanID, err)
	}
	if scan.Status() != scanning.JobStatusSuccess {
		return nil, fmt.Errorf("scan %s is %s, only successful scans can be patched", req.ScanID, scan.Status())
	}

	op := patching.NewOperation(scan.ImageID(), req.ScanID, req.DryRun)
	if err := s.ops.CreateOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("creating patch operation: %w", err)
	}

	s.logger.Info(ctx, "patch operation submitted",
		"operation_id", op.ID().String(),
		"scan_id", req.ScanID.String(),
		"dry_run", req.DryRun)

	go s.run(op, scan, req)
	return op, nil
}

// GetOperation returns an operation with its current phase and counts.
func (s *Service) GetOperation(ctx context.Context, id uuid.UUID) (*patching.Operation, error) {
	return s.ops.GetOperation(ctx, id)
}

// ListResults returns the per-package result rows for an operation.
func (s *Service) ListResults(ctx context.Context, id uuid.UUID) ([]patching.Result, error) {
	return s.ops.ListResults(ctx, id)
}

func (s *Service) run(op *patching.Operation, scan *scanning.Scan, req patching.Request) {
	ctx, span := s.tracer.Start(s.baseCtx, "patch_service.run",
		trace.WithAttributes(
			attribute.String("operation_id", op.ID().String()),
			attribute.String("scan_id", op.ScanID().String()),
			attribute.Bool("dry_run", req.DryRun),
		))
	defer span.End()

	if err := s.pipeline(ctx, op, scan, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "patch operation failed")
		if ferr := op.Fail(err.Error()); ferr == nil {
			s.persist(ctx, op)
		}
		s.logger.Error(ctx, "patch operation failed",
			"operation_id", op.ID().String(), "error", err)
	}
}

func (s *Service) pipeline(ctx context.Context, op *patching.Operation, scan *scanning.Scan, req patching.Request) error {
	// Analyzing: build the patch plan from the scan's findings.
	if err := s.advance(ctx, op, patching.StatusAnalyzing); err != nil {
		return err
	}

	findings, err := s.findings.ListFindings(ctx, op.ScanID())
	if err != nil {
		return fmt.Errorf("loading findings: %w", err)
	}
	plan := BuildPlan(findings, req.CVEAllowList)
	groups, order := patching.GroupByManager(plan)
	op.SetPlan(len(plan), patching.StrategyForManagers(order))

	if len(plan) == 0 {
		// Nothing patchable is a completed no-op, not an error.
		op.RecordCounts(0, 0)
		if err := op.Advance(patching.StatusCompleted); err != nil {
			return err
		}
		s.persist(ctx, op)
		s.logger.Info(ctx, "no patchable vulnerabilities, operation complete",
			"operation_id", op.ID().String())
		return nil
	}
	s.persist(ctx, op)

	// Pulling: get the source image as an archive, reusing the scan's cache
	// when it survives.
	if err := s.advance(ctx, op, patching.StatusPulling); err != nil {
		return err
	}

	image, err := s.images.GetImage(ctx, op.SourceImageID())
	if err != nil {
		return fmt.Errorf("loading source image: %w", err)
	}

	archivePath, err := s.acquireArchive(ctx, op, scan, image)
	if err != nil {
		return fmt.Errorf("acquiring source archive: %w", err)
	}

	// Building: working container plus mounted root filesystem.
	if err := s.advance(ctx, op, patching.StatusBuilding); err != nil {
		return err
	}

	containerID, err := s.containers.FromArchive(ctx, archivePath)
	if err != nil {
		return fmt.Errorf("creating working container: %w", err)
	}
	defer s.containers.Cleanup(context.WithoutCancel(ctx), containerID)

	mountPath, err := s.containers.Mount(ctx, containerID)
	if err != nil {
		return fmt.Errorf("mounting working container: %w", err)
	}

	// Patching: run each family's strategy over its group.
	if err := s.advance(ctx, op, patching.StatusPatching); err != nil {
		return err
	}

	patched, failed, err := s.applyStrategies(ctx, op, groups, order, mountPath, req.DryRun)
	if err != nil {
		return err
	}
	op.RecordCounts(patched, failed)
	s.persist(ctx, op)

	// Pushing: only when something actually changed.
	if !req.DryRun && patched > 0 {
		if err := s.advance(ctx, op, patching.StatusPushing); err != nil {
			return err
		}
		if err := s.publishPatchedImage(ctx, op, image, containerID, req); err != nil {
			return err
		}
	}

	// Verifying: grace delay so layered stores settle before the operation
	// reports done.
	if err := s.advance(ctx, op, patching.StatusVerifying); err != nil {
		return err
	}
	select {
	case <-time.After(s.verifyDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := op.Advance(patching.StatusCompleted); err != nil {
		return err
	}
	s.persist(ctx, op)

	s.logger.Info(ctx, "patch operation completed",
		"operation_id", op.ID().String(),
		"patched", patched,
		"failed", failed,
		"dry_run", req.DryRun)

	if req.Rescan && !req.DryRun && patched > 0 {
		s.rescanPatched(ctx, op, image, req)
	}
	return nil
}

// acquireArchive reuses the scan executor's cached archive when present,
// otherwise exports the image fresh.
func (s *Service) acquireArchive(ctx context.Context, op *patching.Operation, scan *scanning.Scan, image *scanning.Image) (string, error) {
	if cached := s.locator(scan.RequestID(), image.Digest().String()); cached != "" {
		if _, err := os.Stat(cached); err == nil {
			s.logger.Info(ctx, "reusing scan archive cache",
				"operation_id", op.ID().String(), "path", cached)
			return cached, nil
		}
	}

	archivePath := filepath.Join(s.workDir, "patch", op.ID().String()+".tar")
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return "", err
	}

	if image.Source() == scanning.ImageSourceLocal {
		if err := s.client.ExportLocalToArchive(ctx, image.Ref(), archivePath); err != nil {
			return "", err
		}
		return archivePath, nil
	}
	if err := s.client.CopyRemoteToArchive(ctx, image.Ref(), archivePath); err != nil {
		return "", err
	}
	return archivePath, nil
}

func (s *Service) applyStrategies(
	ctx context.Context,
	op *patching.Operation,
	groups map[patching.PackageManager][]patching.PatchableVulnerability,
	order []patching.PackageManager,
	mountPath string,
	dryRun bool,
) (patched, failed int, err error) {
	for _, manager := range order {
		group := groups[manager]

		strat, ok := s.strategies[manager]
		var results []patching.Result
		if !ok {
			cause := fmt.Sprintf("no strategy registered for package manager %s", manager)
			for _, v := range group {
				results = append(results, patching.NewResult(op.ID(), v, patching.ResultFailed, "", cause))
			}
		} else {
			results = strat.Apply(ctx, op.ID(), mountPath, group, dryRun)
		}

		if err := s.ops.AppendResults(ctx, op.ID(), results); err != nil {
			return 0, 0, fmt.Errorf("recording %s results: %w", manager, err)
		}
		for _, r := range results {
			switch r.Status {
			case patching.ResultSuccess:
				patched++
			case patching.ResultFailed:
				failed++
			}
		}
	}
	return patched, failed, nil
}

// publishPatchedImage commits the working container, exports it, optionally
// pushes it, and records the patched image row with provenance back to this
// operation.
func (s *Service) publishPatchedImage(ctx context.Context, op *patching.Operation, source *scanning.Image, containerID string, req patching.Request) error {
	targetTag := req.TargetTag
	if targetTag == "" {
		targetTag = source.Tag() + "-patched"
	}
	targetRef := source.Name() + ":" + targetTag
	if req.TargetRegistry != "" {
		targetRef = req.TargetRegistry + "/" + targetRef
	}

	if err := s.containers.Commit(ctx, containerID, targetRef); err != nil {
		return fmt.Errorf("committing patched image: %w", err)
	}

	archivePath := filepath.Join(s.workDir, "patch", op.ID().String()+"-patched.tar")
	if err := s.containers.ExportImage(ctx, targetRef, archivePath); err != nil {
		return fmt.Errorf("exporting patched image: %w", err)
	}

	if req.TargetRegistry != "" {
		if err := s.client.PushArchiveToRegistry(ctx, archivePath, targetRef); err != nil {
			return fmt.Errorf("pushing patched image: %w", err)
		}
	}

	meta, err := s.client.InspectArchive(ctx, archivePath)
	if err != nil {
		return fmt.Errorf("inspecting patched image: %w", err)
	}

	patchedImage := scanning.NewImage(source.Name(), targetTag, meta.Digest, scanning.ImageSourceLocal)
	patchedImage.SetMetadata(meta.OS, meta.Architecture, meta.SizeBytes)
	patchedImage.MarkPatchedFrom(op.ID())
	if err := s.images.CreateImage(ctx, patchedImage); err != nil {
		// The patched content may collide with an already-known digest; the
		// push itself succeeded, so record and move on.
		s.logger.Warn(ctx, "failed to record patched image row",
			"operation_id", op.ID().String(), "error", err)
		return nil
	}
	op.SetPatchedImage(patchedImage.ID())
	return nil
}

func (s *Service) rescanPatched(ctx context.Context, op *patching.Operation, source *scanning.Image, req patching.Request) {
	targetTag := req.TargetTag
	if targetTag == "" {
		targetTag = source.Tag() + "-patched"
	}

	scanReq := scanning.ScanRequest{
		Image:    source.Name(),
		Tag:      targetTag,
		Source:   "local",
		Registry: req.TargetRegistry,
	}
	if req.TargetRegistry != "" {
		scanReq.Source = "registry"
	}

	if _, err := s.rescanner.StartScan(ctx, scanReq, 0); err != nil {
		s.logger.Warn(ctx, "failed to enqueue rescan of patched image",
			"operation_id", op.ID().String(), "error", err)
		return
	}
	s.logger.Info(ctx, "patched image rescan enqueued",
		"operation_id", op.ID().String(), "image", scanReq.ImageRef())
}

// advance moves the operation forward one phase and publishes the change.
func (s *Service) advance(ctx context.Context, op *patching.Operation, target patching.OperationStatus) error {
	if err := op.Advance(target); err != nil {
		return err
	}
	s.persist(ctx, op)
	return nil
}

// persist writes the operation and publishes its status event; persistence
// failures are logged because the in-memory pipeline remains authoritative
// until the operation finishes.
func (s *Service) persist(ctx context.Context, op *patching.Operation) {
	if err := s.ops.UpdateOperation(ctx, op); err != nil {
		s.logger.Error(ctx, "failed to persist patch operation",
			"operation_id", op.ID().String(), "error", err)
	}
	evt := patching.NewPatchStatusEvent(op)
	if err := s.bus.Publish(ctx, evt.ToDomainEvent()); err != nil {
		s.logger.Warn(ctx, "failed to publish patch status event",
			"operation_id", op.ID().String(), "error", err)
	}
}
