package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/internal/infra/storage"
)

// scanStore implements scanning.ScanRepository using PostgreSQL, covering
// both the scan lifecycle rows and the immutable raw report bags.
var _ scanning.ScanRepository = (*scanStore)(nil)

type scanStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewScanStore creates a PostgreSQL-backed scan repository.
func NewScanStore(pool *pgxpool.Pool, tracer trace.Tracer) *scanStore {
	return &scanStore{db: pool, tracer: tracer}
}

// CreateScan persists a new scan row.
func (s *scanStore) CreateScan(ctx context.Context, scan *scanning.Scan) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("scan_id", scan.ID().String()),
		attribute.String("status", string(scan.Status())),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_scan", dbAttrs, func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			INSERT INTO scans (id, request_id, image_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			pgUUID(scan.ID()),
			scan.RequestID(),
			pgUUID(scan.ImageID()),
			string(scan.Status()),
			scan.CreatedAt(),
		)
		if err != nil {
			return fmt.Errorf("CreateScan insert error: %w", err)
		}
		return nil
	})
}

// UpdateScan modifies a scan's status, scores, and error message.
func (s *scanStore) UpdateScan(ctx context.Context, scan *scanning.Scan) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("scan_id", scan.ID().String()),
		attribute.String("status", string(scan.Status())),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_scan", dbAttrs, func(ctx context.Context) error {
		var riskScore *int
		if score, ok := scan.RiskScore(); ok {
			riskScore = &score
		}
		var finishedAt *time.Time
		if t, ok := scan.FinishedAt(); ok {
			finishedAt = &t
		}

		tag, err := s.db.Exec(ctx, `
			UPDATE scans
			SET status = $2, risk_score = $3, grade = $4, error_message = $5, finished_at = $6
			WHERE id = $1`,
			pgUUID(scan.ID()),
			string(scan.Status()),
			riskScore,
			scan.Grade(),
			scan.ErrorMessage(),
			finishedAt,
		)
		if err != nil {
			return fmt.Errorf("UpdateScan error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return scanning.ErrScanNotFound
		}
		return nil
	})
}

// GetScan retrieves a scan by id.
func (s *scanStore) GetScan(ctx context.Context, id uuid.UUID) (*scanning.Scan, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("scan_id", id.String()))

	var scan *scanning.Scan
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_scan", dbAttrs, func(ctx context.Context) error {
		row := s.db.QueryRow(ctx, `
			SELECT id, request_id, image_id, status, risk_score, grade, error_message, created_at, finished_at
			FROM scans WHERE id = $1`,
			pgUUID(id),
		)
		var err error
		scan, err = scanScanRow(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return scan, nil
}

// ListScansByImage retrieves all scans against an image, newest first.
func (s *scanStore) ListScansByImage(ctx context.Context, imageID uuid.UUID) ([]*scanning.Scan, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("image_id", imageID.String()))

	var scans []*scanning.Scan
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_scans_by_image", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, `
			SELECT id, request_id, image_id, status, risk_score, grade, error_message, created_at, finished_at
			FROM scans WHERE image_id = $1
			ORDER BY created_at DESC`,
			pgUUID(imageID),
		)
		if err != nil {
			return fmt.Errorf("ListScansByImage query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			scan, err := scanScanRow(rows)
			if err != nil {
				return err
			}
			scans = append(scans, scan)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return scans, nil
}

// SaveReports persists the raw adapter blobs and the metadata blob in one
// transaction. Reports are immutable: a second write for the same scan and
// adapter fails on the primary key.
func (s *scanStore) SaveReports(ctx context.Context, reports *scanning.ScanReports) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("scan_id", reports.ScanID().String()),
		attribute.Int("adapters", len(reports.Adapters())),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_reports", dbAttrs, func(ctx context.Context) error {
		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		for adapter, blob := range reports.Raw() {
			if _, err := tx.Exec(ctx, `
				INSERT INTO scan_reports (scan_id, adapter, report)
				VALUES ($1, $2, $3)`,
				pgUUID(reports.ScanID()), adapter, []byte(blob),
			); err != nil {
				return fmt.Errorf("SaveReports insert error for %s: %w", adapter, err)
			}
		}

		if meta := reports.Metadata(); meta != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO scan_report_metadata (scan_id, metadata)
				VALUES ($1, $2)
				ON CONFLICT (scan_id) DO UPDATE SET metadata = EXCLUDED.metadata`,
				pgUUID(reports.ScanID()), []byte(meta),
			); err != nil {
				return fmt.Errorf("SaveReports metadata error: %w", err)
			}
		}

		return tx.Commit(ctx)
	})
}

// GetReports retrieves the raw report bag for a scan.
func (s *scanStore) GetReports(ctx context.Context, scanID uuid.UUID) (*scanning.ScanReports, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("scan_id", scanID.String()))

	var reports *scanning.ScanReports
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_reports", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx,
			`SELECT adapter, report FROM scan_reports WHERE scan_id = $1`,
			pgUUID(scanID),
		)
		if err != nil {
			return fmt.Errorf("GetReports query error: %w", err)
		}
		defer rows.Close()

		raw := make(map[string]json.RawMessage)
		for rows.Next() {
			var adapter string
			var blob []byte
			if err := rows.Scan(&adapter, &blob); err != nil {
				return fmt.Errorf("report row scan error: %w", err)
			}
			raw[adapter] = blob
		}
		if err := rows.Err(); err != nil {
			return err
		}

		var metadata []byte
		err = s.db.QueryRow(ctx,
			`SELECT metadata FROM scan_report_metadata WHERE scan_id = $1`,
			pgUUID(scanID),
		).Scan(&metadata)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("report metadata query error: %w", err)
		}

		reports = scanning.ReconstructScanReports(scanID, raw, metadata)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

func scanScanRow(row pgx.Row) (*scanning.Scan, error) {
	var (
		id           pgtype.UUID
		requestID    string
		imageID      pgtype.UUID
		status       string
		riskScore    *int
		grade        string
		errorMessage string
		createdAt    pgtype.Timestamptz
		finishedAt   pgtype.Timestamptz
	)

	if err := row.Scan(&id, &requestID, &imageID, &status, &riskScore, &grade, &errorMessage, &createdAt, &finishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, scanning.ErrScanNotFound
		}
		return nil, fmt.Errorf("scan row scan error: %w", err)
	}

	var finished *time.Time
	if finishedAt.Valid {
		finished = &finishedAt.Time
	}

	return scanning.ReconstructScan(
		uuid.UUID(id.Bytes),
		requestID,
		uuid.UUID(imageID.Bytes),
		scanning.JobStatus(status),
		riskScore,
		grade,
		errorMessage,
		createdAt.Time,
		finished,
	), nil
}
