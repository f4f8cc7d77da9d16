package adapters

import (
	"context"

	"github.com/harborguard/scanhub/pkg/common/logger"
)

// Trivy wraps the trivy CLI for vulnerability scanning of image archives.
type Trivy struct {
	runner Runner
	logger *logger.Logger
}

// NewTrivy creates the trivy adapter.
func NewTrivy(runner Runner, log *logger.Logger) *Trivy {
	return &Trivy{runner: runner, logger: log.With("adapter", "trivy")}
}

// Name implements Adapter.
func (t *Trivy) Name() string { return "trivy" }

// Version implements Adapter.
func (t *Trivy) Version(ctx context.Context) (string, error) {
	return t.runner.Output(ctx, "trivy", []string{"--version", "--format", "json"})
}

// Scan runs trivy in image-archive mode. Exit code 1 with valid output means
// vulnerabilities were found under --exit-code 1 semantics and is a result.
func (t *Trivy) Scan(ctx context.Context, imagePath, outputPath string, env map[string]string) error {
	args := []string{
		"image",
		"--input", imagePath,
		"--format", "json",
		"--output", outputPath,
		"--scanners", "vuln",
		"--quiet",
	}

	runErr := t.runner.Run(ctx, "trivy", args, env)
	if err := finishScan(t.Name(), outputPath, runErr, 1); err != nil {
		t.logger.Warn(ctx, "trivy scan failed, sentinel written", "error", err)
		return err
	}
	return nil
}
