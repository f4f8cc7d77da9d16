package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opencontainers/go-digest"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/internal/infra/storage"
)

// imageStore implements scanning.ImageRepository using PostgreSQL. Images are
// deduplicated on their digest column, which carries a unique constraint.
var _ scanning.ImageRepository = (*imageStore)(nil)

type imageStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewImageStore creates a PostgreSQL-backed image repository.
func NewImageStore(pool *pgxpool.Pool, tracer trace.Tracer) *imageStore {
	return &imageStore{db: pool, tracer: tracer}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// CreateImage persists a new image record.
func (s *imageStore) CreateImage(ctx context.Context, image *scanning.Image) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("image_id", image.ID().String()),
		attribute.String("digest", image.Digest().String()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_image", dbAttrs, func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			INSERT INTO images (id, name, tag, digest, source, os, arch, size_bytes, patched_from_operation, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			pgUUID(image.ID()),
			image.Name(),
			image.Tag(),
			image.Digest().String(),
			string(image.Source()),
			image.OS(),
			image.Arch(),
			image.SizeBytes(),
			pgUUIDPtrFrom(image.PatchedFromOperation()),
			image.CreatedAt(),
		)
		if err != nil {
			return fmt.Errorf("CreateImage insert error: %w", err)
		}
		return nil
	})
}

// UpdateImage modifies an existing image's metadata.
func (s *imageStore) UpdateImage(ctx context.Context, image *scanning.Image) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("image_id", image.ID().String()))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_image", dbAttrs, func(ctx context.Context) error {
		tag, err := s.db.Exec(ctx, `
			UPDATE images
			SET os = $2, arch = $3, size_bytes = $4, patched_from_operation = $5
			WHERE id = $1`,
			pgUUID(image.ID()),
			image.OS(),
			image.Arch(),
			image.SizeBytes(),
			pgUUIDPtrFrom(image.PatchedFromOperation()),
		)
		if err != nil {
			return fmt.Errorf("UpdateImage error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return scanning.ErrImageNotFound
		}
		return nil
	})
}

// GetImage retrieves an image by id.
func (s *imageStore) GetImage(ctx context.Context, id uuid.UUID) (*scanning.Image, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("image_id", id.String()))

	var image *scanning.Image
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_image", dbAttrs, func(ctx context.Context) error {
		row := s.db.QueryRow(ctx, `
			SELECT id, name, tag, digest, source, os, arch, size_bytes, patched_from_operation, created_at
			FROM images WHERE id = $1`,
			pgUUID(id),
		)
		var err error
		image, err = scanImageRow(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return image, nil
}

// FindImageByDigest retrieves the image for a content digest.
func (s *imageStore) FindImageByDigest(ctx context.Context, dgst digest.Digest) (*scanning.Image, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("digest", dgst.String()))

	var image *scanning.Image
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.find_image_by_digest", dbAttrs, func(ctx context.Context) error {
		row := s.db.QueryRow(ctx, `
			SELECT id, name, tag, digest, source, os, arch, size_bytes, patched_from_operation, created_at
			FROM images WHERE digest = $1`,
			dgst.String(),
		)
		var err error
		image, err = scanImageRow(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return image, nil
}

func scanImageRow(row pgx.Row) (*scanning.Image, error) {
	var (
		id        pgtype.UUID
		name      string
		tag       string
		dgstStr   string
		source    string
		osName    string
		arch      string
		sizeBytes int64
		patchedOp pgtype.UUID
		createdAt pgtype.Timestamptz
	)

	if err := row.Scan(&id, &name, &tag, &dgstStr, &source, &osName, &arch, &sizeBytes, &patchedOp, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, scanning.ErrImageNotFound
		}
		return nil, fmt.Errorf("image row scan error: %w", err)
	}

	dgst, err := digest.Parse(dgstStr)
	if err != nil {
		return nil, fmt.Errorf("stored digest parse error: %w", err)
	}

	var patchedFrom *uuid.UUID
	if patchedOp.Valid {
		v := uuid.UUID(patchedOp.Bytes)
		patchedFrom = &v
	}

	return scanning.ReconstructImage(
		uuid.UUID(id.Bytes),
		name, tag,
		dgst,
		scanning.ImageSource(source),
		osName, arch,
		sizeBytes,
		createdAt.Time,
		patchedFrom,
	), nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgUUIDPtrFrom(id uuid.UUID, ok bool) pgtype.UUID {
	if !ok {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}
