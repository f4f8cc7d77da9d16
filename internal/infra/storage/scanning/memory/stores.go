// Package memory provides in-memory implementations of the scanning
// repositories for tests and single-node development without Postgres.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/harborguard/scanhub/internal/domain/scanning"
)

var _ scanning.ImageRepository = (*ImageStore)(nil)

// ImageStore is an in-memory scanning.ImageRepository.
type ImageStore struct {
	mu       sync.RWMutex
	images   map[uuid.UUID]*scanning.Image
	byDigest map[digest.Digest]uuid.UUID
}

// NewImageStore creates an empty in-memory image store.
func NewImageStore() *ImageStore {
	return &ImageStore{
		images:   make(map[uuid.UUID]*scanning.Image),
		byDigest: make(map[digest.Digest]uuid.UUID),
	}
}

func (s *ImageStore) CreateImage(_ context.Context, image *scanning.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byDigest[image.Digest()]; ok {
		return fmt.Errorf("image with digest %s already exists", image.Digest())
	}
	s.images[image.ID()] = image
	s.byDigest[image.Digest()] = image.ID()
	return nil
}

func (s *ImageStore) UpdateImage(_ context.Context, image *scanning.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[image.ID()]; !ok {
		return scanning.ErrImageNotFound
	}
	s.images[image.ID()] = image
	return nil
}

func (s *ImageStore) GetImage(_ context.Context, id uuid.UUID) (*scanning.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	image, ok := s.images[id]
	if !ok {
		return nil, scanning.ErrImageNotFound
	}
	return image, nil
}

func (s *ImageStore) FindImageByDigest(_ context.Context, dgst digest.Digest) (*scanning.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byDigest[dgst]
	if !ok {
		return nil, scanning.ErrImageNotFound
	}
	return s.images[id], nil
}

var _ scanning.ScanRepository = (*ScanStore)(nil)

// ScanStore is an in-memory scanning.ScanRepository.
type ScanStore struct {
	mu      sync.RWMutex
	scans   map[uuid.UUID]*scanning.Scan
	reports map[uuid.UUID]*scanning.ScanReports
}

// NewScanStore creates an empty in-memory scan store.
func NewScanStore() *ScanStore {
	return &ScanStore{
		scans:   make(map[uuid.UUID]*scanning.Scan),
		reports: make(map[uuid.UUID]*scanning.ScanReports),
	}
}

func (s *ScanStore) CreateScan(_ context.Context, scan *scanning.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans[scan.ID()] = scan
	return nil
}

func (s *ScanStore) UpdateScan(_ context.Context, scan *scanning.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scans[scan.ID()]; !ok {
		return scanning.ErrScanNotFound
	}
	s.scans[scan.ID()] = scan
	return nil
}

func (s *ScanStore) GetScan(_ context.Context, id uuid.UUID) (*scanning.Scan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scan, ok := s.scans[id]
	if !ok {
		return nil, scanning.ErrScanNotFound
	}
	return scan, nil
}

func (s *ScanStore) ListScansByImage(_ context.Context, imageID uuid.UUID) ([]*scanning.Scan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*scanning.Scan
	for _, scan := range s.scans {
		if scan.ImageID() == imageID {
			out = append(out, scan)
		}
	}
	return out, nil
}

func (s *ScanStore) SaveReports(_ context.Context, reports *scanning.ScanReports) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[reports.ScanID()]; ok {
		return scanning.ErrReportExists
	}
	s.reports[reports.ScanID()] = reports
	return nil
}

func (s *ScanStore) GetReports(_ context.Context, scanID uuid.UUID) (*scanning.ScanReports, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reports, ok := s.reports[scanID]
	if !ok {
		return nil, scanning.ErrScanNotFound
	}
	return reports, nil
}

var _ scanning.FindingRepository = (*FindingStore)(nil)

// FindingStore is an in-memory scanning.FindingRepository with the same
// replace semantics as the Postgres store.
type FindingStore struct {
	mu           sync.RWMutex
	findings     map[uuid.UUID][]scanning.NormalizedFinding
	correlations map[uuid.UUID][]scanning.FindingCorrelation
}

// NewFindingStore creates an empty in-memory finding store.
func NewFindingStore() *FindingStore {
	return &FindingStore{
		findings:     make(map[uuid.UUID][]scanning.NormalizedFinding),
		correlations: make(map[uuid.UUID][]scanning.FindingCorrelation),
	}
}

func (s *FindingStore) ReplaceFindings(_ context.Context, scanID uuid.UUID, findings []scanning.NormalizedFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings[scanID] = append([]scanning.NormalizedFinding(nil), findings...)
	return nil
}

func (s *FindingStore) ReplaceCorrelations(_ context.Context, scanID uuid.UUID, correlations []scanning.FindingCorrelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correlations[scanID] = append([]scanning.FindingCorrelation(nil), correlations...)
	return nil
}

func (s *FindingStore) ListFindings(_ context.Context, scanID uuid.UUID) ([]scanning.NormalizedFinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]scanning.NormalizedFinding(nil), s.findings[scanID]...), nil
}

func (s *FindingStore) ListCorrelations(_ context.Context, scanID uuid.UUID) ([]scanning.FindingCorrelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]scanning.FindingCorrelation(nil), s.correlations[scanID]...), nil
}

func (s *FindingStore) MarkFalsePositive(_ context.Context, scanID uuid.UUID, findingID string, falsePositive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := false
	findings := s.findings[scanID]
	for i := range findings {
		if findings[i].ID == findingID {
			findings[i].FalsePositive = falsePositive
			matched = true
		}
	}
	if !matched {
		return fmt.Errorf("no findings with identifier %s in scan %s", findingID, scanID)
	}
	return nil
}
