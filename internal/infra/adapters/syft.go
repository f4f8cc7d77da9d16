package adapters

import (
	"context"

	"github.com/harborguard/scanhub/pkg/common/logger"
)

// Syft wraps the syft CLI for SBOM generation.
type Syft struct {
	runner Runner
	logger *logger.Logger
}

// NewSyft creates the syft adapter.
func NewSyft(runner Runner, log *logger.Logger) *Syft {
	return &Syft{runner: runner, logger: log.With("adapter", "syft")}
}

// Name implements Adapter.
func (s *Syft) Name() string { return "syft" }

// Version implements Adapter.
func (s *Syft) Version(ctx context.Context) (string, error) {
	return s.runner.Output(ctx, "syft", []string{"version", "--output", "raw"})
}

// Scan generates an SPDX-JSON SBOM from the archive. syft has no
// findings-present exit code; any non-zero exit is a failure.
func (s *Syft) Scan(ctx context.Context, imagePath, outputPath string, env map[string]string) error {
	args := []string{
		"scan",
		"docker-archive:" + imagePath,
		"--output", "spdx-json=" + outputPath,
		"--quiet",
	}

	runErr := s.runner.Run(ctx, "syft", args, env)
	if err := finishScan(s.Name(), outputPath, runErr); err != nil {
		s.logger.Warn(ctx, "syft scan failed, sentinel written", "error", err)
		return err
	}
	return nil
}
