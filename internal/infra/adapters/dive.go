package adapters

import (
	"context"

	"github.com/harborguard/scanhub/pkg/common/logger"
)

// Dive wraps the dive CLI for layer efficiency analysis.
type Dive struct {
	runner Runner
	logger *logger.Logger
}

// NewDive creates the dive adapter.
func NewDive(runner Runner, log *logger.Logger) *Dive {
	return &Dive{runner: runner, logger: log.With("adapter", "dive")}
}

// Name implements Adapter.
func (d *Dive) Name() string { return "dive" }

// Version implements Adapter.
func (d *Dive) Version(ctx context.Context) (string, error) {
	return d.runner.Output(ctx, "dive", []string{"--version"})
}

// Scan analyzes layer efficiency. dive exits 1 when efficiency falls below
// its configured threshold, which is a result, not an error.
func (d *Dive) Scan(ctx context.Context, imagePath, outputPath string, env map[string]string) error {
	args := []string{
		"docker-archive://" + imagePath,
		"--json", outputPath,
	}

	runErr := d.runner.Run(ctx, "dive", args, env)
	if err := finishScan(d.Name(), outputPath, runErr, 1); err != nil {
		d.logger.Warn(ctx, "dive scan failed, sentinel written", "error", err)
		return err
	}
	return nil
}
