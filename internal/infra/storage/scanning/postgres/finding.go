package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/internal/infra/storage"
)

// findingStore implements scanning.FindingRepository using PostgreSQL.
// Replacement writes run delete-then-insert in one transaction so normalizer
// reruns are idempotent.
var _ scanning.FindingRepository = (*findingStore)(nil)

type findingStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewFindingStore creates a PostgreSQL-backed finding repository.
func NewFindingStore(pool *pgxpool.Pool, tracer trace.Tracer) *findingStore {
	return &findingStore{db: pool, tracer: tracer}
}

// ReplaceFindings atomically swaps the scan's finding set.
func (s *findingStore) ReplaceFindings(ctx context.Context, scanID uuid.UUID, findings []scanning.NormalizedFinding) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("scan_id", scanID.String()),
		attribute.Int("findings", len(findings)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.replace_findings", dbAttrs, func(ctx context.Context) error {
		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `DELETE FROM findings WHERE scan_id = $1`, pgUUID(scanID)); err != nil {
			return fmt.Errorf("ReplaceFindings delete error: %w", err)
		}

		for _, f := range findings {
			if _, err := tx.Exec(ctx, `
				INSERT INTO findings (scan_id, source, identifier, title, severity, package,
					installed_version, fixed_version, package_type, cvss, false_positive)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				pgUUID(scanID),
				f.Source,
				f.ID,
				f.Title,
				string(f.Severity),
				f.Package,
				f.InstalledVersion,
				f.FixedVersion,
				f.PackageType,
				f.CVSS,
				f.FalsePositive,
			); err != nil {
				return fmt.Errorf("ReplaceFindings insert error: %w", err)
			}
		}

		return tx.Commit(ctx)
	})
}

// ReplaceCorrelations atomically swaps the scan's correlation rows.
func (s *findingStore) ReplaceCorrelations(ctx context.Context, scanID uuid.UUID, correlations []scanning.FindingCorrelation) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("scan_id", scanID.String()),
		attribute.Int("correlations", len(correlations)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.replace_correlations", dbAttrs, func(ctx context.Context) error {
		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `DELETE FROM finding_correlations WHERE scan_id = $1`, pgUUID(scanID)); err != nil {
			return fmt.Errorf("ReplaceCorrelations delete error: %w", err)
		}

		for _, c := range correlations {
			if _, err := tx.Exec(ctx, `
				INSERT INTO finding_correlations (scan_id, identifier, sources, source_count, confidence, worst_severity)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				pgUUID(scanID),
				c.ID,
				c.Sources,
				c.SourceCount,
				c.Confidence,
				string(c.WorstSeverity),
			); err != nil {
				return fmt.Errorf("ReplaceCorrelations insert error: %w", err)
			}
		}

		return tx.Commit(ctx)
	})
}

// ListFindings retrieves all findings for a scan in insertion order.
func (s *findingStore) ListFindings(ctx context.Context, scanID uuid.UUID) ([]scanning.NormalizedFinding, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("scan_id", scanID.String()))

	var findings []scanning.NormalizedFinding
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_findings", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, `
			SELECT source, identifier, title, severity, package, installed_version,
				fixed_version, package_type, cvss, false_positive
			FROM findings WHERE scan_id = $1
			ORDER BY id`,
			pgUUID(scanID),
		)
		if err != nil {
			return fmt.Errorf("ListFindings query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			f := scanning.NormalizedFinding{ScanID: scanID}
			var severity string
			if err := rows.Scan(&f.Source, &f.ID, &f.Title, &severity, &f.Package,
				&f.InstalledVersion, &f.FixedVersion, &f.PackageType, &f.CVSS, &f.FalsePositive); err != nil {
				return fmt.Errorf("finding row scan error: %w", err)
			}
			f.Severity = scanning.Severity(severity)
			findings = append(findings, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}

// ListCorrelations retrieves all correlation rows for a scan.
func (s *findingStore) ListCorrelations(ctx context.Context, scanID uuid.UUID) ([]scanning.FindingCorrelation, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("scan_id", scanID.String()))

	var correlations []scanning.FindingCorrelation
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_correlations", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, `
			SELECT identifier, sources, source_count, confidence, worst_severity
			FROM finding_correlations WHERE scan_id = $1
			ORDER BY id`,
			pgUUID(scanID),
		)
		if err != nil {
			return fmt.Errorf("ListCorrelations query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			c := scanning.FindingCorrelation{ScanID: scanID}
			var worst string
			if err := rows.Scan(&c.ID, &c.Sources, &c.SourceCount, &c.Confidence, &worst); err != nil {
				return fmt.Errorf("correlation row scan error: %w", err)
			}
			c.WorstSeverity = scanning.Severity(worst)
			correlations = append(correlations, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return correlations, nil
}

// MarkFalsePositive flags every finding row matching the identifier within
// the scan.
func (s *findingStore) MarkFalsePositive(ctx context.Context, scanID uuid.UUID, findingID string, falsePositive bool) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("scan_id", scanID.String()),
		attribute.String("finding_id", findingID),
		attribute.Bool("false_positive", falsePositive),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.mark_false_positive", dbAttrs, func(ctx context.Context) error {
		tag, err := s.db.Exec(ctx, `
			UPDATE findings SET false_positive = $3
			WHERE scan_id = $1 AND identifier = $2`,
			pgUUID(scanID), findingID, falsePositive,
		)
		if err != nil {
			return fmt.Errorf("MarkFalsePositive error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("no findings with identifier %s in scan %s", findingID, scanID)
		}
		return nil
	})
}
