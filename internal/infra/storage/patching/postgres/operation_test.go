package postgres

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborguard/scanhub/internal/domain/patching"
	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/internal/infra/storage"
	scanpostgres "github.com/harborguard/scanhub/internal/infra/storage/scanning/postgres"
)

func TestOperationStoreLifecycle(t *testing.T) {
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	images := scanpostgres.NewImageStore(pool, storage.NoOpTracer())
	scans := scanpostgres.NewScanStore(pool, storage.NoOpTracer())
	ops := NewOperationStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	image := scanning.NewImage("library/alpine", "3.19",
		digest.FromString(uuid.NewString()), scanning.ImageSourceRegistry)
	require.NoError(t, images.CreateImage(ctx, image))
	scan := scanning.NewScan("scan-1", image.ID())
	require.NoError(t, scans.CreateScan(ctx, scan))

	op := patching.NewOperation(image.ID(), scan.ID(), false)
	require.NoError(t, ops.CreateOperation(ctx, op))

	got, err := ops.GetOperation(ctx, op.ID())
	require.NoError(t, err)
	assert.Equal(t, patching.StatusPending, got.Status())
	assert.Equal(t, image.ID(), got.SourceImageID())
	assert.Equal(t, scan.ID(), got.ScanID())
	assert.False(t, got.DryRun())

	require.NoError(t, op.Advance(patching.StatusAnalyzing))
	op.SetPlan(2, patching.StrategyApk)
	require.NoError(t, op.Advance(patching.StatusPatching))
	op.RecordCounts(1, 1)
	require.NoError(t, op.Advance(patching.StatusCompleted))
	require.NoError(t, ops.UpdateOperation(ctx, op))

	got, err = ops.GetOperation(ctx, op.ID())
	require.NoError(t, err)
	assert.Equal(t, patching.StatusCompleted, got.Status())
	assert.Equal(t, patching.StrategyApk, got.Strategy())
	assert.Equal(t, 2, got.VulnerabilitiesCount())
	assert.Equal(t, 1, got.PatchedCount())
	assert.Equal(t, 1, got.FailedCount())
	_, finished := got.FinishedAt()
	assert.True(t, finished)
}

func TestOperationStorePatchedImageProvenance(t *testing.T) {
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	images := scanpostgres.NewImageStore(pool, storage.NoOpTracer())
	scans := scanpostgres.NewScanStore(pool, storage.NoOpTracer())
	ops := NewOperationStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	source := scanning.NewImage("library/alpine", "3.19",
		digest.FromString(uuid.NewString()), scanning.ImageSourceRegistry)
	require.NoError(t, images.CreateImage(ctx, source))
	scan := scanning.NewScan("scan-1", source.ID())
	require.NoError(t, scans.CreateScan(ctx, scan))

	op := patching.NewOperation(source.ID(), scan.ID(), false)
	require.NoError(t, ops.CreateOperation(ctx, op))

	patched := scanning.NewImage("library/alpine", "3.19-patched",
		digest.FromString(uuid.NewString()), scanning.ImageSourceLocal)
	patched.MarkPatchedFrom(op.ID())
	require.NoError(t, images.CreateImage(ctx, patched))

	op.SetPatchedImage(patched.ID())
	require.NoError(t, ops.UpdateOperation(ctx, op))

	got, err := ops.GetOperation(ctx, op.ID())
	require.NoError(t, err)
	patchedID, ok := got.PatchedImageID()
	require.True(t, ok)
	assert.Equal(t, patched.ID(), patchedID)
}

func TestOperationStoreNotFound(t *testing.T) {
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	ops := NewOperationStore(pool, storage.NoOpTracer())
	_, err := ops.GetOperation(context.Background(), uuid.New())
	assert.ErrorIs(t, err, patching.ErrOperationNotFound)
}

func TestOperationStoreResults(t *testing.T) {
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	images := scanpostgres.NewImageStore(pool, storage.NoOpTracer())
	scans := scanpostgres.NewScanStore(pool, storage.NoOpTracer())
	ops := NewOperationStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	image := scanning.NewImage("library/alpine", "3.19",
		digest.FromString(uuid.NewString()), scanning.ImageSourceRegistry)
	require.NoError(t, images.CreateImage(ctx, image))
	scan := scanning.NewScan("scan-1", image.ID())
	require.NoError(t, scans.CreateScan(ctx, scan))

	op := patching.NewOperation(image.ID(), scan.ID(), false)
	require.NoError(t, ops.CreateOperation(ctx, op))

	vuln := patching.PatchableVulnerability{
		CVEID:          "CVE-2024-0001",
		PackageName:    "libssl3",
		CurrentVersion: "3.0.11-r0",
		FixedVersion:   "3.0.13-r0",
		PackageManager: patching.PackageManagerApk,
	}
	batch1 := []patching.Result{
		patching.NewResult(op.ID(), vuln, patching.ResultSuccess, "apk add --no-cache libssl3=3.0.13-r0", ""),
	}
	vuln.CVEID = "CVE-2024-0002"
	vuln.PackageName = "musl"
	batch2 := []patching.Result{
		patching.NewResult(op.ID(), vuln, patching.ResultFailed, "apk add --no-cache musl", "not found"),
	}

	require.NoError(t, ops.AppendResults(ctx, op.ID(), batch1))
	require.NoError(t, ops.AppendResults(ctx, op.ID(), batch2))
	require.NoError(t, ops.AppendResults(ctx, op.ID(), nil), "empty batch is a no-op")

	results, err := ops.ListResults(ctx, op.ID())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "CVE-2024-0001", results[0].CVEID)
	assert.Equal(t, patching.ResultSuccess, results[0].Status)
	assert.Equal(t, patching.PackageManagerApk, results[0].PackageManager)
	assert.Equal(t, "3.0.11-r0", results[0].OriginalVersion)
	assert.Equal(t, "3.0.13-r0", results[0].TargetVersion)

	assert.Equal(t, "CVE-2024-0002", results[1].CVEID)
	assert.Equal(t, patching.ResultFailed, results[1].Status)
	assert.Equal(t, "not found", results[1].ErrorMessage)
}
