package scanning

import (
	"context"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

// ImageRepository provides persistent storage for deduplicated image records.
type ImageRepository interface {
	// CreateImage persists a new image record.
	CreateImage(ctx context.Context, image *Image) error

	// UpdateImage modifies an existing image's metadata.
	UpdateImage(ctx context.Context, image *Image) error

	// GetImage retrieves an image by its identifier. Returns ErrImageNotFound
	// when no such image exists.
	GetImage(ctx context.Context, id uuid.UUID) (*Image, error)

	// FindImageByDigest retrieves the image for a content digest, the dedup
	// key. Returns ErrImageNotFound when the digest has never been scanned.
	FindImageByDigest(ctx context.Context, dgst digest.Digest) (*Image, error)
}

// ScanRepository provides persistent storage for scan rows and their raw
// report bags.
type ScanRepository interface {
	// CreateScan persists a new scan row.
	CreateScan(ctx context.Context, scan *Scan) error

	// UpdateScan modifies an existing scan's status, scores, and error message.
	UpdateScan(ctx context.Context, scan *Scan) error

	// GetScan retrieves a scan by its identifier. Returns ErrScanNotFound when
	// no such scan exists.
	GetScan(ctx context.Context, id uuid.UUID) (*Scan, error)

	// ListScansByImage retrieves all scans recorded against an image.
	ListScansByImage(ctx context.Context, imageID uuid.UUID) ([]*Scan, error)

	// SaveReports persists the raw per-adapter blobs for a completed scan.
	// Reports are written once and immutable afterwards.
	SaveReports(ctx context.Context, reports *ScanReports) error

	// GetReports retrieves the raw report bag for a scan.
	GetReports(ctx context.Context, scanID uuid.UUID) (*ScanReports, error)
}

// FindingRepository provides persistent storage for normalized findings and
// their cross-adapter correlations. Replace semantics make recomputation
// idempotent: each write is an authoritative replacement for the scan.
type FindingRepository interface {
	// ReplaceFindings atomically swaps the scan's finding set.
	ReplaceFindings(ctx context.Context, scanID uuid.UUID, findings []NormalizedFinding) error

	// ReplaceCorrelations atomically swaps the scan's correlation rows.
	ReplaceCorrelations(ctx context.Context, scanID uuid.UUID, correlations []FindingCorrelation) error

	// ListFindings retrieves all findings for a scan.
	ListFindings(ctx context.Context, scanID uuid.UUID) ([]NormalizedFinding, error)

	// ListCorrelations retrieves all correlation rows for a scan.
	ListCorrelations(ctx context.Context, scanID uuid.UUID) ([]FindingCorrelation, error)

	// MarkFalsePositive flags a finding so subsequent recomputation excludes it.
	MarkFalsePositive(ctx context.Context, scanID uuid.UUID, findingID string, falsePositive bool) error
}
