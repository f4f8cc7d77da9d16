package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harborguard/scanhub/internal/domain/patching"
	"github.com/harborguard/scanhub/internal/infra/storage"
)

// operationStore implements patching.OperationRepository using PostgreSQL.
// Result rows are append-only; operations are updated in place as the
// pipeline advances.
var _ patching.OperationRepository = (*operationStore)(nil)

type operationStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewOperationStore creates a PostgreSQL-backed patch operation repository.
func NewOperationStore(pool *pgxpool.Pool, tracer trace.Tracer) *operationStore {
	return &operationStore{db: pool, tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// CreateOperation persists a new patch operation.
func (s *operationStore) CreateOperation(ctx context.Context, op *patching.Operation) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("operation_id", op.ID().String()),
		attribute.String("status", string(op.Status())),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_patch_operation", dbAttrs, func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			INSERT INTO patch_operations (id, source_image_id, scan_id, status, strategy, dry_run, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			pgUUID(op.ID()),
			pgUUID(op.SourceImageID()),
			pgUUID(op.ScanID()),
			string(op.Status()),
			string(op.Strategy()),
			op.DryRun(),
			op.CreatedAt(),
		)
		if err != nil {
			return fmt.Errorf("CreateOperation insert error: %w", err)
		}
		return nil
	})
}

// UpdateOperation modifies an operation's phase, counts, and error message.
func (s *operationStore) UpdateOperation(ctx context.Context, op *patching.Operation) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("operation_id", op.ID().String()),
		attribute.String("status", string(op.Status())),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_patch_operation", dbAttrs, func(ctx context.Context) error {
		var patchedImageID pgtype.UUID
		if id, ok := op.PatchedImageID(); ok {
			patchedImageID = pgUUID(id)
		}
		var finishedAt *time.Time
		if t, ok := op.FinishedAt(); ok {
			finishedAt = &t
		}

		tag, err := s.db.Exec(ctx, `
			UPDATE patch_operations
			SET status = $2, strategy = $3, vulnerabilities_count = $4, patched_count = $5,
				failed_count = $6, patched_image_id = $7, error_message = $8, finished_at = $9
			WHERE id = $1`,
			pgUUID(op.ID()),
			string(op.Status()),
			string(op.Strategy()),
			op.VulnerabilitiesCount(),
			op.PatchedCount(),
			op.FailedCount(),
			patchedImageID,
			op.ErrorMessage(),
			finishedAt,
		)
		if err != nil {
			return fmt.Errorf("UpdateOperation error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return patching.ErrOperationNotFound
		}
		return nil
	})
}

// GetOperation retrieves an operation by id.
func (s *operationStore) GetOperation(ctx context.Context, id uuid.UUID) (*patching.Operation, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("operation_id", id.String()))

	var op *patching.Operation
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_patch_operation", dbAttrs, func(ctx context.Context) error {
		row := s.db.QueryRow(ctx, `
			SELECT id, source_image_id, scan_id, status, strategy, dry_run,
				vulnerabilities_count, patched_count, failed_count,
				patched_image_id, error_message, created_at, finished_at
			FROM patch_operations WHERE id = $1`,
			pgUUID(id),
		)

		var (
			opID           pgtype.UUID
			sourceImageID  pgtype.UUID
			scanID         pgtype.UUID
			status         string
			strategy       string
			dryRun         bool
			vulnCount      int
			patchedCount   int
			failedCount    int
			patchedImageID pgtype.UUID
			errorMessage   string
			createdAt      pgtype.Timestamptz
			finishedAt     pgtype.Timestamptz
		)

		if err := row.Scan(&opID, &sourceImageID, &scanID, &status, &strategy, &dryRun,
			&vulnCount, &patchedCount, &failedCount, &patchedImageID, &errorMessage,
			&createdAt, &finishedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return patching.ErrOperationNotFound
			}
			return fmt.Errorf("operation row scan error: %w", err)
		}

		var patchedImage *uuid.UUID
		if patchedImageID.Valid {
			v := uuid.UUID(patchedImageID.Bytes)
			patchedImage = &v
		}
		var finished *time.Time
		if finishedAt.Valid {
			finished = &finishedAt.Time
		}

		op = patching.ReconstructOperation(
			uuid.UUID(opID.Bytes),
			uuid.UUID(sourceImageID.Bytes),
			uuid.UUID(scanID.Bytes),
			patching.OperationStatus(status),
			patching.Strategy(strategy),
			dryRun,
			vulnCount, patchedCount, failedCount,
			patchedImage,
			errorMessage,
			createdAt.Time,
			finished,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// AppendResults appends result rows for an operation.
func (s *operationStore) AppendResults(ctx context.Context, operationID uuid.UUID, results []patching.Result) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("operation_id", operationID.String()),
		attribute.Int("results", len(results)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.append_patch_results", dbAttrs, func(ctx context.Context) error {
		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		for _, r := range results {
			if _, err := tx.Exec(ctx, `
				INSERT INTO patch_results (operation_id, cve_id, package_name, original_version,
					target_version, status, package_manager, command, error_message, recorded_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				pgUUID(operationID),
				r.CVEID,
				r.PackageName,
				r.OriginalVersion,
				r.TargetVersion,
				string(r.Status),
				string(r.PackageManager),
				r.Command,
				r.ErrorMessage,
				r.RecordedAt,
			); err != nil {
				return fmt.Errorf("AppendResults insert error: %w", err)
			}
		}

		return tx.Commit(ctx)
	})
}

// ListResults retrieves all result rows for an operation in insertion order.
func (s *operationStore) ListResults(ctx context.Context, operationID uuid.UUID) ([]patching.Result, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("operation_id", operationID.String()))

	var results []patching.Result
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_patch_results", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, `
			SELECT cve_id, package_name, original_version, target_version,
				status, package_manager, command, error_message, recorded_at
			FROM patch_results WHERE operation_id = $1
			ORDER BY id`,
			pgUUID(operationID),
		)
		if err != nil {
			return fmt.Errorf("ListResults query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			r := patching.Result{OperationID: operationID}
			var status, manager string
			var recordedAt pgtype.Timestamptz
			if err := rows.Scan(&r.CVEID, &r.PackageName, &r.OriginalVersion, &r.TargetVersion,
				&status, &manager, &r.Command, &r.ErrorMessage, &recordedAt); err != nil {
				return fmt.Errorf("result row scan error: %w", err)
			}
			r.Status = patching.ResultStatus(status)
			r.PackageManager = patching.PackageManager(manager)
			r.RecordedAt = recordedAt.Time
			results = append(results, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}
