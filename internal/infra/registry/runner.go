package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner executes the registry tooling (skopeo and the container
// runtime). It is an interface so the client can be tested without the
// binaries installed.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) error
	Output(ctx context.Context, name string, args []string) (string, error)
}

type execRunner struct {
	timeout time.Duration
}

// NewCommandRunner creates a CommandRunner with a per-invocation timeout.
// Image copies can be large, so the timeout should be generous compared to
// the scanner runner's.
func NewCommandRunner(timeout time.Duration) CommandRunner {
	return &execRunner{timeout: timeout}
}

func (r *execRunner) Run(ctx context.Context, name string, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s timed out after %s: %w", name, r.timeout, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exit status %d: %s", name, exitErr.ExitCode(), tail(stderr.String(), 512))
		}
		return fmt.Errorf("running %s: %w", name, err)
	}
	return nil
}

func (r *execRunner) Output(ctx context.Context, name string, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%s timed out after %s: %w", name, r.timeout, ctx.Err())
		}
		return "", fmt.Errorf("running %s: %s: %w", name, tail(stderr.String(), 512), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
