package adapters

import (
	"context"

	"github.com/harborguard/scanhub/pkg/common/logger"
)

// OSV wraps the osv-scanner CLI, matching image contents against the OSV
// database. It scans the archive directly and builds its own inventory, so
// it has no dependency on the syft adapter's output.
type OSV struct {
	runner Runner
	logger *logger.Logger
}

// NewOSV creates the osv-scanner adapter.
func NewOSV(runner Runner, log *logger.Logger) *OSV {
	return &OSV{runner: runner, logger: log.With("adapter", "osv")}
}

// Name implements Adapter.
func (o *OSV) Name() string { return "osv" }

// Version implements Adapter.
func (o *OSV) Version(ctx context.Context) (string, error) {
	return o.runner.Output(ctx, "osv-scanner", []string{"--version"})
}

// Scan runs osv-scanner against the archive. Exit code 1 means
// vulnerabilities were found and is a result.
func (o *OSV) Scan(ctx context.Context, imagePath, outputPath string, env map[string]string) error {
	args := []string{
		"scan", "image",
		"--archive", imagePath,
		"--format", "json",
		"--output", outputPath,
	}

	runErr := o.runner.Run(ctx, "osv-scanner", args, env)
	if err := finishScan(o.Name(), outputPath, runErr, 1); err != nil {
		o.logger.Warn(ctx, "osv-scanner scan failed, sentinel written", "error", err)
		return err
	}
	return nil
}
