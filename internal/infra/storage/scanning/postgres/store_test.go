package postgres

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/internal/infra/storage"
)

const testDigest = "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newImage(dgst string) *scanning.Image {
	return scanning.NewImage("library/nginx", "latest", digest.Digest(dgst), scanning.ImageSourceRegistry)
}

func TestImageStoreRoundTrip(t *testing.T) {
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	store := NewImageStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	image := newImage(testDigest)
	image.SetMetadata("linux", "amd64", 1024)
	require.NoError(t, store.CreateImage(ctx, image))

	got, err := store.GetImage(ctx, image.ID())
	require.NoError(t, err)
	assert.Equal(t, image.ID(), got.ID())
	assert.Equal(t, "library/nginx", got.Name())
	assert.Equal(t, "latest", got.Tag())
	assert.Equal(t, digest.Digest(testDigest), got.Digest())
	assert.Equal(t, scanning.ImageSourceRegistry, got.Source())
	assert.Equal(t, "linux", got.OS())
	assert.Equal(t, "amd64", got.Arch())
	assert.Equal(t, int64(1024), got.SizeBytes())

	byDigest, err := store.FindImageByDigest(ctx, digest.Digest(testDigest))
	require.NoError(t, err)
	assert.Equal(t, image.ID(), byDigest.ID())
}

func TestImageStoreDigestUnique(t *testing.T) {
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	store := NewImageStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	require.NoError(t, store.CreateImage(ctx, newImage(testDigest)))
	assert.Error(t, store.CreateImage(ctx, newImage(testDigest)), "digest column is unique")
}

func TestImageStoreNotFound(t *testing.T) {
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	store := NewImageStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	_, err := store.GetImage(ctx, uuid.New())
	assert.ErrorIs(t, err, scanning.ErrImageNotFound)

	_, err = store.FindImageByDigest(ctx, digest.Digest(testDigest))
	assert.ErrorIs(t, err, scanning.ErrImageNotFound)

	err = store.UpdateImage(ctx, newImage(testDigest))
	assert.ErrorIs(t, err, scanning.ErrImageNotFound)
}

func TestImageStoreUpdateMetadata(t *testing.T) {
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	store := NewImageStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	image := newImage(testDigest)
	require.NoError(t, store.CreateImage(ctx, image))

	image.SetMetadata("linux", "arm64", 2048)
	require.NoError(t, store.UpdateImage(ctx, image))

	got, err := store.GetImage(ctx, image.ID())
	require.NoError(t, err)
	assert.Equal(t, "arm64", got.Arch())
	assert.Equal(t, int64(2048), got.SizeBytes())
}

// seedScan creates the image row a scan needs and the scan itself.
func seedScan(t *testing.T, ctx context.Context, images *imageStore, scans *scanStore, requestID string) *scanning.Scan {
	t.Helper()

	image := scanning.NewImage("library/nginx", "latest",
		digest.FromString(uuid.NewString()), scanning.ImageSourceRegistry)
	require.NoError(t, images.CreateImage(ctx, image))

	scan := scanning.NewScan(requestID, image.ID())
	require.NoError(t, scans.CreateScan(ctx, scan))
	return scan
}

func TestScanStoreLifecycle(t *testing.T) {
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	images := NewImageStore(pool, storage.NoOpTracer())
	scans := NewScanStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	scan := seedScan(t, ctx, images, scans, "scan-1")

	got, err := scans.GetScan(ctx, scan.ID())
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusPending, got.Status())
	assert.Equal(t, "scan-1", got.RequestID())
	_, hasScore := got.RiskScore()
	assert.False(t, hasScore)

	require.NoError(t, scan.SetStatus(scanning.JobStatusRunning, ""))
	require.NoError(t, scans.UpdateScan(ctx, scan))
	scan.SetScores(42, "B")
	require.NoError(t, scan.SetStatus(scanning.JobStatusSuccess, ""))
	require.NoError(t, scans.UpdateScan(ctx, scan))

	got, err = scans.GetScan(ctx, scan.ID())
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusSuccess, got.Status())
	assert.Equal(t, "B", got.Grade())
	score, ok := got.RiskScore()
	require.True(t, ok)
	assert.Equal(t, 42, score)
	_, finished := got.FinishedAt()
	assert.True(t, finished)

	listed, err := scans.ListScansByImage(ctx, scan.ImageID())
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, scan.ID(), listed[0].ID())
}

func TestScanStoreNotFound(t *testing.T) {
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	scans := NewScanStore(pool, storage.NoOpTracer())
	_, err := scans.GetScan(context.Background(), uuid.New())
	assert.ErrorIs(t, err, scanning.ErrScanNotFound)
}

func TestScanStoreReports(t *testing.T) {
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	images := NewImageStore(pool, storage.NoOpTracer())
	scans := NewScanStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	scan := seedScan(t, ctx, images, scans, "scan-1")

	reports := scanning.NewScanReports(scan.ID())
	require.NoError(t, reports.Add("trivy", json.RawMessage(`{"Results":[]}`)))
	require.NoError(t, reports.Add("grype", json.RawMessage(`{"matches":[]}`)))
	reports.SetMetadata(json.RawMessage(`{"digest":"sha256:abc"}`))
	require.NoError(t, scans.SaveReports(ctx, reports))

	got, err := scans.GetReports(ctx, scan.ID())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"trivy", "grype"}, got.Adapters())

	blob, ok := got.Report("trivy")
	require.True(t, ok)
	assert.JSONEq(t, `{"Results":[]}`, string(blob))
	assert.JSONEq(t, `{"digest":"sha256:abc"}`, string(got.Metadata()))

	// An unknown scan has an empty bag, not an error.
	empty, err := scans.GetReports(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty.Adapters())
}

func TestFindingStoreReplaceAndReclassify(t *testing.T) {
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	images := NewImageStore(pool, storage.NoOpTracer())
	scans := NewScanStore(pool, storage.NoOpTracer())
	findings := NewFindingStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	scan := seedScan(t, ctx, images, scans, "scan-1")
	score := 9.8

	rows := []scanning.NormalizedFinding{
		{
			ScanID:           scan.ID(),
			Source:           "trivy",
			ID:               "CVE-2024-0001",
			Title:            "buffer overflow",
			Severity:         scanning.SeverityCritical,
			Package:          "libssl3",
			InstalledVersion: "3.0.11",
			FixedVersion:     "3.0.13",
			PackageType:      "apk",
			CVSS:             &score,
		},
		{
			ScanID:   scan.ID(),
			Source:   "dockle",
			ID:       "CIS-DI-0001",
			Severity: scanning.SeverityMedium,
		},
	}
	require.NoError(t, findings.ReplaceFindings(ctx, scan.ID(), rows))

	got, err := findings.ListFindings(ctx, scan.ID())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "CVE-2024-0001", got[0].ID)
	require.NotNil(t, got[0].CVSS)
	assert.Equal(t, 9.8, *got[0].CVSS)
	assert.Nil(t, got[1].CVSS)

	// Replacement is wholesale, not additive.
	require.NoError(t, findings.ReplaceFindings(ctx, scan.ID(), rows[:1]))
	got, err = findings.ListFindings(ctx, scan.ID())
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, findings.MarkFalsePositive(ctx, scan.ID(), "CVE-2024-0001", true))
	got, err = findings.ListFindings(ctx, scan.ID())
	require.NoError(t, err)
	assert.True(t, got[0].FalsePositive)

	assert.Error(t, findings.MarkFalsePositive(ctx, scan.ID(), "CVE-9999", true))
}

func TestFindingStoreCorrelations(t *testing.T) {
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	images := NewImageStore(pool, storage.NoOpTracer())
	scans := NewScanStore(pool, storage.NoOpTracer())
	findings := NewFindingStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	scan := seedScan(t, ctx, images, scans, "scan-1")

	correlations := []scanning.FindingCorrelation{
		{
			ScanID:        scan.ID(),
			ID:            "CVE-2024-0001",
			Sources:       []string{"trivy", "grype"},
			SourceCount:   2,
			Confidence:    2.0 / 3.0,
			WorstSeverity: scanning.SeverityCritical,
		},
	}
	require.NoError(t, findings.ReplaceCorrelations(ctx, scan.ID(), correlations))

	got, err := findings.ListCorrelations(ctx, scan.ID())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"trivy", "grype"}, got[0].Sources)
	assert.Equal(t, 2, got[0].SourceCount)
	assert.InDelta(t, 2.0/3.0, got[0].Confidence, 1e-9)
	assert.Equal(t, scanning.SeverityCritical, got[0].WorstSeverity)

	require.NoError(t, findings.ReplaceCorrelations(ctx, scan.ID(), nil))
	got, err = findings.ListCorrelations(ctx, scan.ID())
	require.NoError(t, err)
	assert.Empty(t, got)
}
