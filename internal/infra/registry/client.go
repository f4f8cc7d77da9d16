// Package registry acquires and publishes container images through the
// skopeo CLI and the local container runtime. Everything downstream works on
// docker-archive tarballs, so the client's job is moving images between
// registries, the runtime, and archives on disk.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/opencontainers/go-digest"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harborguard/scanhub/pkg/common"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

// maxCopyAttempts bounds retries for registry copy and push operations.
// Adapter and runtime failures are never retried; only registry transport is.
const maxCopyAttempts = 3

// ImageMetadata holds what skopeo reports about an archived image plus the
// archive size on disk.
type ImageMetadata struct {
	Digest       digest.Digest
	OS           string
	Architecture string
	SizeBytes    int64
}

// Client talks to container registries via skopeo and to the local runtime
// for images that only exist on the host.
type Client struct {
	runner     CommandRunner
	limiter    *common.RateLimiter
	logger     *logger.Logger
	tracer     trace.Tracer
	runtimeBin string
}

// NewClient creates a registry client. runtimeBin is the local container
// runtime binary ("docker" or "podman"); rps bounds outbound registry calls.
func NewClient(runner CommandRunner, runtimeBin string, rps float64, log *logger.Logger, tracer trace.Tracer) *Client {
	if runtimeBin == "" {
		runtimeBin = "docker"
	}
	return &Client{
		runner:     runner,
		limiter:    common.NewRateLimiter(rps, int(rps)+1),
		logger:     log.With("component", "registry_client"),
		tracer:     tracer,
		runtimeBin: runtimeBin,
	}
}

// ResolveDigest returns the manifest digest of a remote image reference.
func (c *Client) ResolveDigest(ctx context.Context, imageRef string) (digest.Digest, error) {
	ctx, span := c.tracer.Start(ctx, "registry.resolve_digest",
		trace.WithAttributes(attribute.String("image_ref", imageRef)))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	out, err := c.runner.Output(ctx, "skopeo", []string{
		"inspect", "--format", "{{.Digest}}", "docker://" + imageRef,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "digest resolution failed")
		return "", fmt.Errorf("resolving digest for %s: %w", imageRef, err)
	}

	dgst, err := digest.Parse(out)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("parsing digest %q for %s: %w", out, imageRef, err)
	}

	span.SetAttributes(attribute.String("digest", dgst.String()))
	return dgst, nil
}

// CopyRemoteToArchive copies a remote image into a docker-archive tarball at
// archivePath. Transient transport failures are retried with exponential
// backoff up to maxCopyAttempts.
func (c *Client) CopyRemoteToArchive(ctx context.Context, imageRef, archivePath string) error {
	ctx, span := c.tracer.Start(ctx, "registry.copy_remote_to_archive",
		trace.WithAttributes(
			attribute.String("image_ref", imageRef),
			attribute.String("archive_path", archivePath),
		))
	defer span.End()

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return c.runner.Run(ctx, "skopeo", []string{
			"copy", "docker://" + imageRef, "docker-archive:" + archivePath + ":" + imageRef,
		})
	}

	if err := c.retry(ctx, operation, "copy", imageRef); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registry copy failed")
		return fmt.Errorf("copying %s to archive: %w", imageRef, err)
	}
	return nil
}

// ExportLocalToArchive saves an image from the local container runtime into
// a docker-archive tarball. Local exports are not retried.
func (c *Client) ExportLocalToArchive(ctx context.Context, imageRef, archivePath string) error {
	ctx, span := c.tracer.Start(ctx, "registry.export_local_to_archive",
		trace.WithAttributes(
			attribute.String("image_ref", imageRef),
			attribute.String("archive_path", archivePath),
		))
	defer span.End()

	err := c.runner.Run(ctx, c.runtimeBin, []string{"save", "-o", archivePath, imageRef})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "local export failed")
		return fmt.Errorf("exporting %s from local runtime: %w", imageRef, err)
	}
	return nil
}

// PushArchiveToRegistry copies a docker-archive tarball to a remote
// reference, retrying transient failures like CopyRemoteToArchive.
func (c *Client) PushArchiveToRegistry(ctx context.Context, archivePath, targetRef string) error {
	ctx, span := c.tracer.Start(ctx, "registry.push_archive",
		trace.WithAttributes(
			attribute.String("archive_path", archivePath),
			attribute.String("target_ref", targetRef),
		))
	defer span.End()

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return c.runner.Run(ctx, "skopeo", []string{
			"copy", "docker-archive:" + archivePath, "docker://" + targetRef,
		})
	}

	if err := c.retry(ctx, operation, "push", targetRef); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registry push failed")
		return fmt.Errorf("pushing archive to %s: %w", targetRef, err)
	}
	return nil
}

// ResolveLocalDigest returns the digest the local runtime reports for an
// image, falling back to a digest of the image ID when the image was never
// pushed and carries no repo digest.
func (c *Client) ResolveLocalDigest(ctx context.Context, imageRef string) (digest.Digest, error) {
	out, err := c.runner.Output(ctx, c.runtimeBin, []string{
		"image", "inspect", "--format", "{{if .RepoDigests}}{{index .RepoDigests 0}}{{else}}{{.Id}}{{end}}", imageRef,
	})
	if err != nil {
		return "", fmt.Errorf("inspecting local image %s: %w", imageRef, err)
	}

	// RepoDigests entries look like "name@sha256:...".
	if at := strings.LastIndexByte(out, '@'); at >= 0 {
		out = out[at+1:]
	}

	dgst, err := digest.Parse(out)
	if err != nil {
		return "", fmt.Errorf("parsing local digest %q for %s: %w", out, imageRef, err)
	}
	return dgst, nil
}

// archiveInspect is the subset of skopeo inspect output the client reads.
type archiveInspect struct {
	Digest       string `json:"Digest"`
	Os           string `json:"Os"`
	Architecture string `json:"Architecture"`
}

// InspectArchive reports OS, architecture, and on-disk size for an archived
// image.
func (c *Client) InspectArchive(ctx context.Context, archivePath string) (ImageMetadata, error) {
	ctx, span := c.tracer.Start(ctx, "registry.inspect_archive",
		trace.WithAttributes(attribute.String("archive_path", archivePath)))
	defer span.End()

	out, err := c.runner.Output(ctx, "skopeo", []string{"inspect", "docker-archive:" + archivePath})
	if err != nil {
		span.RecordError(err)
		return ImageMetadata{}, fmt.Errorf("inspecting archive %s: %w", archivePath, err)
	}

	var info archiveInspect
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		span.RecordError(err)
		return ImageMetadata{}, fmt.Errorf("parsing inspect output for %s: %w", archivePath, err)
	}

	stat, err := os.Stat(archivePath)
	if err != nil {
		return ImageMetadata{}, fmt.Errorf("stating archive %s: %w", archivePath, err)
	}

	meta := ImageMetadata{
		OS:           info.Os,
		Architecture: info.Architecture,
		SizeBytes:    stat.Size(),
	}
	if dgst, derr := digest.Parse(info.Digest); derr == nil {
		meta.Digest = dgst
	}
	return meta, nil
}

func (c *Client) retry(ctx context.Context, operation func() error, verb, ref string) error {
	expBackoff := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxCopyAttempts-1)

	attempt := 0
	notify := func(err error, _ time.Duration) {
		attempt++
		c.logger.Warn(ctx, "registry operation failed, retrying",
			"operation", verb, "ref", ref, "attempt", attempt, "error", err)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(expBackoff, ctx), notify)
}
