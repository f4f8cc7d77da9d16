package adapters

import (
	"context"

	"github.com/harborguard/scanhub/pkg/common/logger"
)

// Grype wraps the grype CLI as the second, independent vulnerability source.
// It generates its own SBOM internally rather than consuming syft's report,
// so it has no ordering dependency on the syft adapter.
type Grype struct {
	runner Runner
	logger *logger.Logger
}

// NewGrype creates the grype adapter.
func NewGrype(runner Runner, log *logger.Logger) *Grype {
	return &Grype{runner: runner, logger: log.With("adapter", "grype")}
}

// Name implements Adapter.
func (g *Grype) Name() string { return "grype" }

// Version implements Adapter.
func (g *Grype) Version(ctx context.Context) (string, error) {
	return g.runner.Output(ctx, "grype", []string{"version", "--output", "raw"})
}

// Scan runs grype against the archive. Exit code 1 signals findings above the
// fail-on threshold and is a result, not an error. grype writes to stdout via
// --file; the adapter verifies the file is parseable JSON afterwards.
func (g *Grype) Scan(ctx context.Context, imagePath, outputPath string, env map[string]string) error {
	args := []string{
		"docker-archive:" + imagePath,
		"--output", "json",
		"--file", outputPath,
		"--quiet",
	}

	runErr := g.runner.Run(ctx, "grype", args, env)
	if err := finishScan(g.Name(), outputPath, runErr, 1); err != nil {
		g.logger.Warn(ctx, "grype scan failed, sentinel written", "error", err)
		return err
	}
	return nil
}
