package adapters

import (
	"context"

	"github.com/harborguard/scanhub/pkg/common/logger"
)

// Dockle wraps the dockle CLI for image configuration and compliance linting.
type Dockle struct {
	runner Runner
	logger *logger.Logger
}

// NewDockle creates the dockle adapter.
func NewDockle(runner Runner, log *logger.Logger) *Dockle {
	return &Dockle{runner: runner, logger: log.With("adapter", "dockle")}
}

// Name implements Adapter.
func (d *Dockle) Name() string { return "dockle" }

// Version implements Adapter.
func (d *Dockle) Version(ctx context.Context) (string, error) {
	return d.runner.Output(ctx, "dockle", []string{"--version"})
}

// Scan lints the archive. dockle exits 1 on WARN and FATAL checkpoints with
// its default exit level, which is a result, not an error.
func (d *Dockle) Scan(ctx context.Context, imagePath, outputPath string, env map[string]string) error {
	args := []string{
		"--input", imagePath,
		"--format", "json",
		"--output", outputPath,
	}

	runErr := d.runner.Run(ctx, "dockle", args, env)
	if err := finishScan(d.Name(), outputPath, runErr, 1); err != nil {
		d.logger.Warn(ctx, "dockle scan failed, sentinel written", "error", err)
		return err
	}
	return nil
}
