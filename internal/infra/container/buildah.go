// Package container wraps the buildah CLI for patch operations. A patch run
// needs a writable root filesystem: the package turns an image archive into
// a working container, mounts it, lets strategies run package-manager
// commands inside it, and commits the result back to an image.
package container

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harborguard/scanhub/pkg/common/logger"
)

// CommandRunner executes buildah. Shared shape with the registry package so
// tests can swap in a fake.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) error
	Output(ctx context.Context, name string, args []string) (string, error)
}

// Manager drives buildah working containers.
type Manager struct {
	runner CommandRunner
	logger *logger.Logger
	tracer trace.Tracer
}

// NewManager creates a buildah-backed container manager.
func NewManager(runner CommandRunner, log *logger.Logger, tracer trace.Tracer) *Manager {
	return &Manager{
		runner: runner,
		logger: log.With("component", "container_manager"),
		tracer: tracer,
	}
}

// FromArchive creates a working container from a docker-archive tarball and
// returns its container ID.
func (m *Manager) FromArchive(ctx context.Context, archivePath string) (string, error) {
	ctx, span := m.tracer.Start(ctx, "container.from_archive",
		trace.WithAttributes(attribute.String("archive_path", archivePath)))
	defer span.End()

	id, err := m.runner.Output(ctx, "buildah", []string{"from", "docker-archive:" + archivePath})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "working container creation failed")
		return "", fmt.Errorf("creating working container from %s: %w", archivePath, err)
	}

	span.SetAttributes(attribute.String("container_id", id))
	return id, nil
}

// Mount mounts the working container's root filesystem and returns the mount
// path.
func (m *Manager) Mount(ctx context.Context, containerID string) (string, error) {
	ctx, span := m.tracer.Start(ctx, "container.mount",
		trace.WithAttributes(attribute.String("container_id", containerID)))
	defer span.End()

	path, err := m.runner.Output(ctx, "buildah", []string{"mount", containerID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mount failed")
		return "", fmt.Errorf("mounting container %s: %w", containerID, err)
	}
	return path, nil
}

// RunCommand executes a command inside the working container. The command's
// combined output is discarded; callers only see success or the error with a
// stderr tail from the runner.
func (m *Manager) RunCommand(ctx context.Context, containerID string, command []string) error {
	args := append([]string{"run", containerID, "--"}, command...)
	if err := m.runner.Run(ctx, "buildah", args); err != nil {
		return fmt.Errorf("running command in container %s: %w", containerID, err)
	}
	return nil
}

// Commit writes the working container's state to a new image reference.
func (m *Manager) Commit(ctx context.Context, containerID, imageRef string) error {
	ctx, span := m.tracer.Start(ctx, "container.commit",
		trace.WithAttributes(
			attribute.String("container_id", containerID),
			attribute.String("image_ref", imageRef),
		))
	defer span.End()

	if err := m.runner.Run(ctx, "buildah", []string{"commit", containerID, imageRef}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return fmt.Errorf("committing container %s to %s: %w", containerID, imageRef, err)
	}
	return nil
}

// ExportImage writes a committed image to a docker-archive tarball so the
// registry client can push it.
func (m *Manager) ExportImage(ctx context.Context, imageRef, archivePath string) error {
	ctx, span := m.tracer.Start(ctx, "container.export_image",
		trace.WithAttributes(
			attribute.String("image_ref", imageRef),
			attribute.String("archive_path", archivePath),
		))
	defer span.End()

	err := m.runner.Run(ctx, "buildah", []string{"push", imageRef, "docker-archive:" + archivePath})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "image export failed")
		return fmt.Errorf("exporting %s to archive: %w", imageRef, err)
	}
	return nil
}

// Cleanup unmounts and removes the working container. Always safe to defer;
// failures are logged, never returned, so cleanup cannot mask the real error
// of a patch run.
func (m *Manager) Cleanup(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}
	if err := m.runner.Run(ctx, "buildah", []string{"unmount", containerID}); err != nil {
		m.logger.Warn(ctx, "failed to unmount working container", "container_id", containerID, "error", err)
	}
	if err := m.runner.Run(ctx, "buildah", []string{"rm", containerID}); err != nil {
		m.logger.Warn(ctx, "failed to remove working container", "container_id", containerID, "error", err)
	}
}
