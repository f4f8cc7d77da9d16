package scanning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/internal/infra/adapters"
	"github.com/harborguard/scanhub/internal/infra/registry"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

// Executor runs one admitted scan end to end: acquire the image as a
// docker-archive tarball, run every adapter over it sequentially, and load
// the outputs into a report bag. Adapter failures are absorbed per adapter;
// only acquisition failures abort the job.
type Executor struct {
	adapters []adapters.Adapter
	client   *registry.Client
	images   scanning.ImageRepository
	tracker  *ProgressTracker

	// workDir is the root for per-request report dirs and the archive cache.
	workDir string

	// keepArchives leaves acquired archives in the cache after the scan so a
	// later patch operation against the same digest can reuse them. When
	// false archives are removed best-effort after the adapters finish.
	keepArchives bool

	// adapterEnv supplies per-adapter environment overrides (mirror
	// locations, auth); nil means no overrides.
	adapterEnv func(adapter string) map[string]string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewExecutor creates a scan executor.
func NewExecutor(
	adapterList []adapters.Adapter,
	client *registry.Client,
	images scanning.ImageRepository,
	tracker *ProgressTracker,
	workDir string,
	keepArchives bool,
	adapterEnv func(adapter string) map[string]string,
	log *logger.Logger,
	tracer trace.Tracer,
) *Executor {
	return &Executor{
		adapters:     adapterList,
		client:       client,
		images:       images,
		tracker:      tracker,
		workDir:      workDir,
		keepArchives: keepArchives,
		adapterEnv:   adapterEnv,
		logger:       log.With("component", "scan_executor"),
		tracer:       tracer,
	}
}

// ArchivePath returns the cache location for an image archive. The key
// combines digest and request ID so concurrent scans of the same content
// never share a file owner.
func (e *Executor) ArchivePath(requestID string, dgst string) string {
	return filepath.Join(e.workDir, "cache", requestID+"-"+digestHex(dgst)+".tar")
}

// Execute runs the scan for an admitted queue entry and returns the raw
// report bag. A returned error means the job must be failed; absorbed
// adapter failures do not surface here.
func (e *Executor) Execute(ctx context.Context, entry *scanning.QueuedScan) (*scanning.ScanReports, error) {
	job := entry.Job()
	ctx, span := e.tracer.Start(ctx, "executor.execute_scan",
		trace.WithAttributes(
			attribute.String("request_id", job.RequestID()),
			attribute.String("scan_id", job.ScanID().String()),
		))
	defer span.End()

	reportsDir := filepath.Join(e.workDir, "reports", job.RequestID())
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return nil, fmt.Errorf("preparing report dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(e.workDir, "cache"), 0o755); err != nil {
		return nil, fmt.Errorf("preparing archive cache dir: %w", err)
	}

	image, err := e.images.GetImage(ctx, job.ImageID())
	if err != nil {
		return nil, fmt.Errorf("loading image record: %w", err)
	}

	archivePath, err := e.acquire(ctx, entry, image)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "image acquisition failed")
		return nil, err
	}
	if !e.keepArchives {
		defer e.cleanupArchive(ctx, archivePath)
	}

	e.runAdapters(ctx, job.RequestID(), archivePath, reportsDir)

	reports, err := e.loadReports(ctx, job.ScanID(), reportsDir)
	if err != nil {
		return nil, err
	}

	meta, merr := json.Marshal(map[string]any{
		"image_ref": entry.Request().ImageRef(),
		"digest":    image.Digest().String(),
		"os":        image.OS(),
		"arch":      image.Arch(),
	})
	if merr == nil {
		reports.SetMetadata(meta)
	}

	return reports, nil
}

// acquire produces the docker-archive tarball for the scan, reusing a cached
// archive when one exists for this request and digest. It also records the
// inspected platform metadata on the image row.
func (e *Executor) acquire(ctx context.Context, entry *scanning.QueuedScan, image *scanning.Image) (string, error) {
	requestID := entry.RequestID()
	archivePath := e.ArchivePath(requestID, image.Digest().String())

	if _, err := os.Stat(archivePath); err == nil {
		e.logger.Info(ctx, "reusing cached archive", "request_id", requestID, "path", archivePath)
		return archivePath, nil
	}

	e.tracker.StartDownloadPhase(ctx, requestID)
	defer e.tracker.StopPhase(requestID)

	var err error
	switch entry.Request().SourceType() {
	case scanning.ImageSourceLocal:
		err = e.client.ExportLocalToArchive(ctx, entry.Request().ImageRef(), archivePath)
	default:
		err = e.client.CopyRemoteToArchive(ctx, entry.Request().ImageRef(), archivePath)
	}
	if err != nil {
		return "", fmt.Errorf("acquiring image: %w", err)
	}

	meta, err := e.client.InspectArchive(ctx, archivePath)
	if err != nil {
		e.logger.Warn(ctx, "archive inspection failed, metadata skipped",
			"request_id", requestID, "error", err)
		return archivePath, nil
	}

	image.SetMetadata(meta.OS, meta.Architecture, meta.SizeBytes)
	if err := e.images.UpdateImage(ctx, image); err != nil {
		e.logger.Warn(ctx, "failed to persist image metadata",
			"request_id", requestID, "error", err)
	}
	return archivePath, nil
}

// runAdapters runs every adapter in order with continue-on-error semantics,
// advancing progress through the scanning band per adapter. A failed adapter
// has already written its sentinel document; the run moves on.
func (e *Executor) runAdapters(ctx context.Context, requestID, archivePath, reportsDir string) {
	total := len(e.adapters)
	band := scanningEndPct - downloadEndPct

	for i, a := range e.adapters {
		step := "Scanning with " + a.Name()
		progress := downloadEndPct + i*band/total
		if err := e.tracker.UpdateProgress(ctx, requestID, progress, step); err != nil {
			// Job left Running (cooperative cancel); stop launching adapters.
			e.logger.Info(ctx, "stopping adapter run, job no longer updatable",
				"request_id", requestID, "error", err)
			return
		}

		var env map[string]string
		if e.adapterEnv != nil {
			env = e.adapterEnv(a.Name())
		}
		outputPath := filepath.Join(reportsDir, a.Name()+".json")
		if err := a.Scan(ctx, archivePath, outputPath, env); err != nil {
			e.logger.Warn(ctx, "adapter failed, continuing",
				"request_id", requestID, "adapter", a.Name(), "error", err)
		}
	}

	_ = e.tracker.UpdateProgress(ctx, requestID, scanningEndPct, "Aggregating results")
}

// loadReports reads every adapter output, sentinel documents included, into
// the report bag.
func (e *Executor) loadReports(ctx context.Context, scanID uuid.UUID, reportsDir string) (*scanning.ScanReports, error) {
	reports := scanning.NewScanReports(scanID)

	for _, a := range e.adapters {
		path := filepath.Join(reportsDir, a.Name()+".json")
		blob, err := os.ReadFile(path)
		if err != nil {
			e.logger.Warn(ctx, "adapter output missing, skipped",
				"scan_id", scanID.String(), "adapter", a.Name(), "error", err)
			continue
		}
		if err := reports.Add(a.Name(), blob); err != nil {
			return nil, fmt.Errorf("recording %s report: %w", a.Name(), err)
		}
	}
	return reports, nil
}

func (e *Executor) cleanupArchive(ctx context.Context, archivePath string) {
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		e.logger.Warn(ctx, "failed to remove image archive", "path", archivePath, "error", err)
	}
}

// digestHex strips the algorithm prefix from a digest string so it can be
// used in a filename.
func digestHex(dgst string) string {
	if i := strings.IndexByte(dgst, ':'); i >= 0 {
		return dgst[i+1:]
	}
	return dgst
}
