// Package reporting turns raw adapter output into the normalized result
// model: findings, cross-adapter correlations, the aggregate risk score, and
// the compliance grade. Everything it writes is an authoritative replacement
// per scan, so reprocessing is idempotent.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

// normalizeFunc flattens one adapter's raw blob. Adapters without a
// normalizer (syft, dive) contribute raw blobs only.
type normalizeFunc func(scanID uuid.UUID, blob json.RawMessage) []scanning.NormalizedFinding

// normalizerOrder fixes iteration order so finding and correlation rows come
// out deterministically run to run.
var normalizerOrder = []string{"trivy", "grype", "osv", "dockle"}

var normalizers = map[string]normalizeFunc{
	"trivy":  normalizeTrivy,
	"grype":  normalizeGrype,
	"osv":    normalizeOSV,
	"dockle": normalizeDockle,
}

// vulnerabilitySources names the adapters whose findings enter CVE
// correlation. Compliance findings (dockle) are normalized but correlate
// with nothing.
var vulnerabilitySources = map[string]struct{}{
	"trivy": {},
	"grype": {},
	"osv":   {},
}

// Service normalizes completed scans and recomputes their aggregates.
type Service struct {
	findings scanning.FindingRepository
	scans    scanning.ScanRepository

	// knownAdapters bounds the correlation confidence denominator: the
	// number of registered adapters capable of reporting a CVE.
	knownAdapters int

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates the reporting service.
func NewService(
	findings scanning.FindingRepository,
	scans scanning.ScanRepository,
	knownAdapters int,
	log *logger.Logger,
	tracer trace.Tracer,
) *Service {
	if knownAdapters < 1 {
		knownAdapters = 1
	}
	return &Service{
		findings:      findings,
		scans:         scans,
		knownAdapters: knownAdapters,
		logger:        log.With("component", "reporting_service"),
		tracer:        tracer,
	}
}

// ProcessScan normalizes a completed scan's reports, replaces its findings
// and correlations, and returns the aggregate risk score and compliance
// grade. Sentinel blobs from failed adapters are skipped; they contribute no
// findings.
func (s *Service) ProcessScan(ctx context.Context, scanID uuid.UUID, reports *scanning.ScanReports) (int, string, error) {
	return s.process(ctx, scanID, reports, nil)
}

// RecomputeScan reloads the scan's stored reports and reprocesses them,
// carrying over false-positive classifications from the existing finding
// set. Used after a finding is reclassified.
func (s *Service) RecomputeScan(ctx context.Context, scanID uuid.UUID) error {
	reports, err := s.scans.GetReports(ctx, scanID)
	if err != nil {
		return fmt.Errorf("loading reports for recompute: %w", err)
	}

	existing, err := s.findings.ListFindings(ctx, scanID)
	if err != nil {
		return fmt.Errorf("loading findings for recompute: %w", err)
	}

	falsePositives := make(map[string]struct{})
	for _, f := range existing {
		if f.FalsePositive {
			falsePositives[findingKey(f)] = struct{}{}
		}
	}

	riskScore, grade, err := s.process(ctx, scanID, reports, falsePositives)
	if err != nil {
		return err
	}

	scan, err := s.scans.GetScan(ctx, scanID)
	if err != nil {
		return fmt.Errorf("loading scan for recompute: %w", err)
	}
	scan.SetScores(riskScore, grade)
	if err := s.scans.UpdateScan(ctx, scan); err != nil {
		return fmt.Errorf("persisting recomputed scores: %w", err)
	}
	return nil
}

// ReclassifyFinding flags a finding as (not) a false positive and recomputes
// the scan's aggregates without it.
func (s *Service) ReclassifyFinding(ctx context.Context, scanID uuid.UUID, findingID string, falsePositive bool) error {
	if err := s.findings.MarkFalsePositive(ctx, scanID, findingID, falsePositive); err != nil {
		return fmt.Errorf("reclassifying finding %s: %w", findingID, err)
	}
	return s.RecomputeScan(ctx, scanID)
}

func (s *Service) process(ctx context.Context, scanID uuid.UUID, reports *scanning.ScanReports, falsePositives map[string]struct{}) (int, string, error) {
	ctx, span := s.tracer.Start(ctx, "reporting.process_scan",
		trace.WithAttributes(attribute.String("scan_id", scanID.String())))
	defer span.End()

	var all []scanning.NormalizedFinding
	grade := ""

	for _, name := range normalizerOrder {
		normalize := normalizers[name]
		blob, ok := reports.Report(name)
		if !ok {
			continue
		}
		if scanning.IsSentinel(blob) {
			s.logger.Warn(ctx, "skipping sentinel report", "scan_id", scanID.String(), "adapter", name)
			continue
		}
		all = append(all, normalize(scanID, blob)...)
	}

	if blob, ok := reports.Report("dockle"); ok && !scanning.IsSentinel(blob) {
		if fatal, warn, info, _, ok := complianceTally(blob); ok {
			grade = LetterGrade(ComputeComplianceScore(fatal, warn, info))
		}
	}

	if falsePositives != nil {
		for i := range all {
			if _, ok := falsePositives[findingKey(all[i])]; ok {
				all[i].FalsePositive = true
			}
		}
	}

	var vulnFindings []scanning.NormalizedFinding
	for _, f := range all {
		if _, ok := vulnerabilitySources[f.Source]; ok {
			vulnFindings = append(vulnFindings, f)
		}
	}
	correlations := scanning.CorrelateFindings(scanID, vulnFindings, s.knownAdapters)

	if err := s.findings.ReplaceFindings(ctx, scanID, all); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finding replacement failed")
		return 0, "", fmt.Errorf("replacing findings: %w", err)
	}
	if err := s.findings.ReplaceCorrelations(ctx, scanID, correlations); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "correlation replacement failed")
		return 0, "", fmt.Errorf("replacing correlations: %w", err)
	}

	riskScore := ComputeRiskScore(correlations, vulnFindings)

	span.SetAttributes(
		attribute.Int("findings", len(all)),
		attribute.Int("correlations", len(correlations)),
		attribute.Int("risk_score", riskScore),
	)

	s.logger.Info(ctx, "scan results normalized",
		"scan_id", scanID.String(),
		"findings", len(all),
		"correlations", len(correlations),
		"risk_score", riskScore,
		"grade", grade)

	return riskScore, grade, nil
}

// findingKey identifies a finding across recomputations: same adapter, same
// identifier, same package.
func findingKey(f scanning.NormalizedFinding) string {
	return f.Source + "|" + f.ID + "|" + f.Package
}
