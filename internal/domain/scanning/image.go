package scanning

import (
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

// ImageSource identifies where an image is acquired from.
type ImageSource string

const (
	// ImageSourceLocal means the image lives in the local container runtime
	// and is exported directly to an archive.
	ImageSourceLocal ImageSource = "LOCAL"

	// ImageSourceRegistry means the image is copied from a remote registry,
	// keyed by its resolved content digest.
	ImageSourceRegistry ImageSource = "REGISTRY"
)

// ParseImageSource converts a string to an ImageSource, defaulting to registry.
func ParseImageSource(s string) ImageSource {
	if s == string(ImageSourceLocal) || s == "local" {
		return ImageSourceLocal
	}
	return ImageSourceRegistry
}

// Image is the deduplicated record of scanned image content. Distinct
// (name, tag) pairs that resolve to the same content digest share one Image;
// the digest is the dedup key. Images are created lazily on first scan of a
// new digest.
type Image struct {
	id        uuid.UUID
	name      string
	tag       string
	digest    digest.Digest
	source    ImageSource
	os        string
	arch      string
	sizeBytes int64
	createdAt time.Time

	// patchedFromOperation links a patched image back to the patch operation
	// that produced it. Nil for images that were scanned directly.
	patchedFromOperation *uuid.UUID
}

// NewImage creates a new Image record for a freshly observed digest.
func NewImage(name, tag string, dgst digest.Digest, source ImageSource) *Image {
	return &Image{
		id:        uuid.New(),
		name:      name,
		tag:       tag,
		digest:    dgst,
		source:    source,
		createdAt: time.Now().UTC(),
	}
}

// ReconstructImage creates an Image from stored fields, bypassing creation
// invariants. This should only be used when loading from storage.
func ReconstructImage(
	id uuid.UUID,
	name, tag string,
	dgst digest.Digest,
	source ImageSource,
	os, arch string,
	sizeBytes int64,
	createdAt time.Time,
	patchedFromOperation *uuid.UUID,
) *Image {
	return &Image{
		id:                   id,
		name:                 name,
		tag:                  tag,
		digest:               dgst,
		source:               source,
		os:                   os,
		arch:                 arch,
		sizeBytes:            sizeBytes,
		createdAt:            createdAt,
		patchedFromOperation: patchedFromOperation,
	}
}

func (i *Image) ID() uuid.UUID         { return i.id }
func (i *Image) Name() string          { return i.name }
func (i *Image) Tag() string           { return i.tag }
func (i *Image) Digest() digest.Digest { return i.digest }
func (i *Image) Source() ImageSource   { return i.source }
func (i *Image) OS() string            { return i.os }
func (i *Image) Arch() string          { return i.arch }
func (i *Image) SizeBytes() int64      { return i.sizeBytes }
func (i *Image) CreatedAt() time.Time  { return i.createdAt }

// PatchedFromOperation returns the patch operation that produced this image,
// if any.
func (i *Image) PatchedFromOperation() (uuid.UUID, bool) {
	if i.patchedFromOperation == nil {
		return uuid.Nil, false
	}
	return *i.patchedFromOperation, true
}

// Ref returns the name:tag reference for the image.
func (i *Image) Ref() string { return i.name + ":" + i.tag }

// SetMetadata records inspected platform metadata alongside the image.
func (i *Image) SetMetadata(os, arch string, sizeBytes int64) {
	i.os = os
	i.arch = arch
	i.sizeBytes = sizeBytes
}

// MarkPatchedFrom records the patch operation provenance on a derived image.
func (i *Image) MarkPatchedFrom(operationID uuid.UUID) {
	i.patchedFromOperation = &operationID
}
