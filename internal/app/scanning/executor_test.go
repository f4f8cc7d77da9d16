package scanning

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/internal/infra/adapters"
	"github.com/harborguard/scanhub/internal/infra/registry"
	storagememory "github.com/harborguard/scanhub/internal/infra/storage/scanning/memory"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

const testDigest = "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// fakeRegistryRunner simulates skopeo and the container runtime. Copy and
// save invocations materialize the archive file so downstream stat checks
// behave like the real tools.
type fakeRegistryRunner struct {
	failCopy bool
	copies   int
}

func (f *fakeRegistryRunner) Run(_ context.Context, name string, args []string) error {
	switch {
	case name == "skopeo" && len(args) > 0 && args[0] == "copy":
		f.copies++
		if f.failCopy {
			return fmt.Errorf("skopeo exit status 1: connection refused")
		}
		for _, arg := range args[1:] {
			if path, ok := strings.CutPrefix(arg, "docker-archive:"); ok {
				path = strings.SplitN(path, ":", 2)[0]
				return os.WriteFile(path, []byte("layers"), 0o644)
			}
		}
		return nil
	case len(args) > 1 && args[0] == "save":
		// docker/podman save -o <path> <ref>
		return os.WriteFile(args[2], []byte("layers"), 0o644)
	default:
		return nil
	}
}

func (f *fakeRegistryRunner) Output(_ context.Context, name string, args []string) (string, error) {
	if name == "skopeo" && len(args) > 0 && args[0] == "inspect" {
		if len(args) >= 3 && args[1] == "--format" {
			return testDigest, nil
		}
		return fmt.Sprintf(`{"Digest":%q,"Os":"linux","Architecture":"amd64"}`, testDigest), nil
	}
	return "", fmt.Errorf("unexpected command %s %v", name, args)
}

// fakeAdapter writes a canned blob, or writes the shared sentinel document on
// failure the way real adapters do.
type fakeAdapter struct {
	name string
	fail bool
}

func (a *fakeAdapter) Name() string                            { return a.name }
func (a *fakeAdapter) Version(context.Context) (string, error) { return "0.0.0-test", nil }

func (a *fakeAdapter) Scan(_ context.Context, _, outputPath string, _ map[string]string) error {
	if a.fail {
		cause := fmt.Errorf("%s crashed", a.name)
		doc, _ := json.Marshal(scanning.NewSentinelError(a.name, cause))
		_ = os.WriteFile(outputPath, doc, 0o644)
		return cause
	}
	blob := fmt.Sprintf(`{"tool":%q,"results":[]}`, a.name)
	return os.WriteFile(outputPath, []byte(blob), 0o644)
}

type executorFixture struct {
	executor *Executor
	registry *scanning.JobRegistry
	tracker  *ProgressTracker
	images   *storagememory.ImageStore
	runner   *fakeRegistryRunner
}

func newExecutorFixture(t *testing.T, adapterList []adapters.Adapter, keepArchives bool) *executorFixture {
	t.Helper()

	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	tracer := noop.NewTracerProvider().Tracer("test")
	jobRegistry, tracker := newTestTracker(t)

	runner := &fakeRegistryRunner{}
	client := registry.NewClient(runner, "docker", 100, log, tracer)
	images := storagememory.NewImageStore()

	executor := NewExecutor(
		adapterList, client, images, tracker,
		t.TempDir(), keepArchives, nil, log, tracer,
	)
	return &executorFixture{
		executor: executor,
		registry: jobRegistry,
		tracker:  tracker,
		images:   images,
		runner:   runner,
	}
}

func (f *executorFixture) admitScan(t *testing.T, requestID string, source string) *scanning.QueuedScan {
	t.Helper()

	req := scanning.ScanRequest{Image: "library/nginx", Tag: "latest", Source: source}
	image := scanning.NewImage(req.Image, req.Tag, digest.Digest(testDigest), req.SourceType())
	require.NoError(t, f.images.CreateImage(context.Background(), image))

	job := scanning.NewJob(requestID, uuid.New(), image.ID())
	require.NoError(t, f.registry.Register(job))
	require.NoError(t, f.tracker.MarkRunning(context.Background(), requestID))

	return scanning.NewQueuedScan(job, req, 0)
}

func TestExecutorHappyPath(t *testing.T) {
	t.Parallel()

	adapterList := []adapters.Adapter{
		&fakeAdapter{name: "trivy"},
		&fakeAdapter{name: "grype"},
		&fakeAdapter{name: "syft"},
	}
	fx := newExecutorFixture(t, adapterList, true)
	entry := fx.admitScan(t, "scan-1", "registry")

	reports, err := fx.executor.Execute(context.Background(), entry)
	require.NoError(t, err)

	require.Len(t, reports.Adapters(), 3)
	blob, ok := reports.Report("trivy")
	require.True(t, ok)
	assert.False(t, scanning.IsSentinel(blob))

	// Inspected platform metadata lands on the image record.
	image, err := fx.images.GetImage(context.Background(), entry.Job().ImageID())
	require.NoError(t, err)
	assert.Equal(t, "linux", image.OS())
	assert.Equal(t, "amd64", image.Arch())

	var meta map[string]any
	require.NoError(t, json.Unmarshal(reports.Metadata(), &meta))
	assert.Equal(t, testDigest, meta["digest"])

	// Progress reached the scanning ceiling.
	assert.GreaterOrEqual(t, entry.Job().Progress(), scanningEndPct)
}

func TestExecutorAbsorbsAdapterFailures(t *testing.T) {
	t.Parallel()

	adapterList := []adapters.Adapter{
		&fakeAdapter{name: "trivy"},
		&fakeAdapter{name: "grype", fail: true},
		&fakeAdapter{name: "syft"},
	}
	fx := newExecutorFixture(t, adapterList, true)
	entry := fx.admitScan(t, "scan-1", "registry")

	reports, err := fx.executor.Execute(context.Background(), entry)
	require.NoError(t, err)

	// All three blobs load; the failed adapter's is the sentinel document.
	require.Len(t, reports.Adapters(), 3)
	blob, ok := reports.Report("grype")
	require.True(t, ok)
	assert.True(t, scanning.IsSentinel(blob))
}

func TestExecutorReusesCachedArchive(t *testing.T) {
	t.Parallel()

	fx := newExecutorFixture(t, []adapters.Adapter{&fakeAdapter{name: "trivy"}}, true)
	entry := fx.admitScan(t, "scan-1", "registry")

	archivePath := fx.executor.ArchivePath("scan-1", testDigest)
	require.NoError(t, os.MkdirAll(filepath.Dir(archivePath), 0o755))
	require.NoError(t, os.WriteFile(archivePath, []byte("cached"), 0o644))

	_, err := fx.executor.Execute(context.Background(), entry)
	require.NoError(t, err)

	assert.Zero(t, fx.runner.copies, "cached archive must not be re-copied")
}

func TestExecutorLocalSourceUsesRuntimeExport(t *testing.T) {
	t.Parallel()

	fx := newExecutorFixture(t, []adapters.Adapter{&fakeAdapter{name: "trivy"}}, true)
	entry := fx.admitScan(t, "scan-1", "local")

	_, err := fx.executor.Execute(context.Background(), entry)
	require.NoError(t, err)

	assert.Zero(t, fx.runner.copies, "local images export through the runtime, not skopeo")
	_, statErr := os.Stat(fx.executor.ArchivePath("scan-1", testDigest))
	assert.NoError(t, statErr)
}

func TestExecutorRemovesArchiveWhenNotKeeping(t *testing.T) {
	t.Parallel()

	fx := newExecutorFixture(t, []adapters.Adapter{&fakeAdapter{name: "trivy"}}, false)
	entry := fx.admitScan(t, "scan-1", "registry")

	_, err := fx.executor.Execute(context.Background(), entry)
	require.NoError(t, err)

	_, statErr := os.Stat(fx.executor.ArchivePath("scan-1", testDigest))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecutorFailsWhenAcquisitionFails(t *testing.T) {
	t.Parallel()

	fx := newExecutorFixture(t, []adapters.Adapter{&fakeAdapter{name: "trivy"}}, true)
	fx.runner.failCopy = true
	entry := fx.admitScan(t, "scan-1", "registry")

	start := time.Now()
	_, err := fx.executor.Execute(context.Background(), entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquiring image")

	// Retries happen, bounded by the copy attempt cap.
	assert.Equal(t, 3, fx.runner.copies)
	assert.Less(t, time.Since(start), 30*time.Second)
}
