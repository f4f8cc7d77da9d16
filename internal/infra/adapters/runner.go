package adapters

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

// Runner executes external scanner binaries. It exists as an interface so
// adapter behavior can be tested without the real CLIs installed.
type Runner interface {
	// Run executes the named binary with args, merging env over the process
	// environment. A non-nil error carries the exit code and a stderr tail.
	Run(ctx context.Context, name string, args []string, env map[string]string) error

	// Output executes the binary and returns its stdout.
	Output(ctx context.Context, name string, args []string) (string, error)
}

// execRunner runs binaries through os/exec with a per-invocation timeout.
// CommandContext kills the process when the deadline passes, so no external
// call can wait forever.
type execRunner struct {
	timeout time.Duration
}

// NewRunner creates a Runner enforcing the given timeout per invocation.
func NewRunner(timeout time.Duration) Runner {
	return &execRunner{timeout: timeout}
}

// ExitError reports a non-zero exit from an external tool. Adapters inspect
// the code: several scanners use dedicated exit codes to signal
// "vulnerabilities found", which is a result, not a failure.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
}

func (r *execRunner) Run(ctx context.Context, name string, args []string, env map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = mergeEnv(os.Environ(), env)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s timed out after %s: %w", name, r.timeout, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode(), Stderr: tail(stderr.String(), 512)}
	}
	return fmt.Errorf("running %s: %w", name, err)
}

func (r *execRunner) Output(ctx context.Context, name string, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("running %s: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	out := make([]string, len(base), len(base)+len(extra))
	copy(out, base)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
