package container

import (
	"context"
	"fmt"
)

// ChrootRunner executes package-manager commands inside a mounted container
// root filesystem. Patch strategies depend on this narrow interface rather
// than the full Manager.
type ChrootRunner interface {
	RunChroot(ctx context.Context, mountPath string, command []string) error
}

// chrootRunner shells out to chroot over the mount path. Requires the
// orchestrator to run with privileges matching buildah's.
type chrootRunner struct {
	runner CommandRunner
}

// NewChrootRunner creates a ChrootRunner over the given command runner.
func NewChrootRunner(runner CommandRunner) ChrootRunner {
	return &chrootRunner{runner: runner}
}

func (c *chrootRunner) RunChroot(ctx context.Context, mountPath string, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command for chroot at %s", mountPath)
	}
	args := append([]string{mountPath}, command...)
	return c.runner.Run(ctx, "chroot", args)
}
