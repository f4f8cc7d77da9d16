package patching

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/harborguard/scanhub/internal/domain/patching"
	"github.com/harborguard/scanhub/internal/infra/container"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

// commandSet captures one package-manager family's command vocabulary. The
// shared strategy flow (refresh, upgrade with version pin, fallback to
// latest, cache clean) is identical across families; only the commands
// differ.
type commandSet struct {
	refresh          []string
	clean            []string
	upgradeVersioned func(pkg, version string) []string
	upgradeLatest    func(pkg string) []string
}

// strategy remediates one package-manager family against a mounted container
// filesystem.
type strategy struct {
	manager patching.PackageManager
	runner  container.ChrootRunner
	cmds    commandSet
	logger  *logger.Logger
}

var _ patching.PatchStrategy = (*strategy)(nil)

// NewAptStrategy patches Debian-family images.
func NewAptStrategy(runner container.ChrootRunner, log *logger.Logger) patching.PatchStrategy {
	return &strategy{
		manager: patching.PackageManagerApt,
		runner:  runner,
		logger:  log.With("strategy", "apt"),
		cmds: commandSet{
			refresh: []string{"apt-get", "update"},
			clean:   []string{"apt-get", "clean"},
			upgradeVersioned: func(pkg, version string) []string {
				return []string{"apt-get", "install", "-y", "--only-upgrade", pkg + "=" + version}
			},
			upgradeLatest: func(pkg string) []string {
				return []string{"apt-get", "install", "-y", "--only-upgrade", pkg}
			},
		},
	}
}

// NewYumStrategy patches RPM-family images.
func NewYumStrategy(runner container.ChrootRunner, log *logger.Logger) patching.PatchStrategy {
	return &strategy{
		manager: patching.PackageManagerYum,
		runner:  runner,
		logger:  log.With("strategy", "yum"),
		cmds: commandSet{
			refresh: []string{"yum", "makecache"},
			clean:   []string{"yum", "clean", "all"},
			upgradeVersioned: func(pkg, version string) []string {
				return []string{"yum", "install", "-y", pkg + "-" + version}
			},
			upgradeLatest: func(pkg string) []string {
				return []string{"yum", "update", "-y", pkg}
			},
		},
	}
}

// NewApkStrategy patches Alpine images.
func NewApkStrategy(runner container.ChrootRunner, log *logger.Logger) patching.PatchStrategy {
	return &strategy{
		manager: patching.PackageManagerApk,
		runner:  runner,
		logger:  log.With("strategy", "apk"),
		cmds: commandSet{
			refresh: []string{"apk", "update"},
			clean:   []string{"sh", "-c", "rm -rf /var/cache/apk/*"},
			upgradeVersioned: func(pkg, version string) []string {
				return []string{"apk", "add", "--no-cache", pkg + "=" + version}
			},
			upgradeLatest: func(pkg string) []string {
				return []string{"apk", "add", "--no-cache", "--upgrade", pkg}
			},
		},
	}
}

// Manager implements patching.PatchStrategy.
func (s *strategy) Manager() patching.PackageManager { return s.manager }

// Apply upgrades the group's packages inside the mounted filesystem. The
// returned results cover every input vulnerability:
//
//   - dry run: one Skipped row per vulnerability with the intended command
//   - index refresh failure: the whole group Failed with that cause
//   - per-package: Success, or Failed after the versioned upgrade and the
//     latest fallback both fail
//
// Linked packages are expanded before upgrading so coupled libraries move
// together.
func (s *strategy) Apply(ctx context.Context, operationID uuid.UUID, mountPath string, vulns []patching.PatchableVulnerability, dryRun bool) []patching.Result {
	results := make([]patching.Result, 0, len(vulns))

	if dryRun {
		for _, v := range vulns {
			cmd := s.plannedCommand(v)
			results = append(results, patching.NewResult(operationID, v, patching.ResultSkipped, cmd, ""))
		}
		return results
	}

	if err := s.runner.RunChroot(ctx, mountPath, s.cmds.refresh); err != nil {
		s.logger.Warn(ctx, "package index refresh failed, whole group failed", "error", err)
		cause := "package index refresh failed: " + err.Error()
		for _, v := range vulns {
			results = append(results, patching.NewResult(operationID, v, patching.ResultFailed, strings.Join(s.cmds.refresh, " "), cause))
		}
		return results
	}

	for _, v := range vulns {
		results = append(results, s.upgrade(ctx, operationID, mountPath, v))
	}

	if err := s.runner.RunChroot(ctx, mountPath, s.cmds.clean); err != nil {
		s.logger.Warn(ctx, "package cache clean failed", "error", err)
	}

	return results
}

func (s *strategy) upgrade(ctx context.Context, operationID uuid.UUID, mountPath string, v patching.PatchableVulnerability) patching.Result {
	packages := patching.ExpandLinkedPackages([]string{v.PackageName})

	var lastCmd string
	for _, pkg := range packages {
		cmd := s.cmds.upgradeVersioned(pkg, v.FixedVersion)
		lastCmd = strings.Join(cmd, " ")
		if err := s.runner.RunChroot(ctx, mountPath, cmd); err == nil {
			continue
		}

		// Version pin rejected (already superseded, or the repo only carries
		// a newer build); take whatever the repo has.
		fallback := s.cmds.upgradeLatest(pkg)
		lastCmd = strings.Join(fallback, " ")
		if err := s.runner.RunChroot(ctx, mountPath, fallback); err != nil {
			s.logger.Warn(ctx, "package upgrade failed",
				"package", pkg, "cve", v.CVEID, "error", err)
			return patching.NewResult(operationID, v, patching.ResultFailed, lastCmd, err.Error())
		}
	}

	return patching.NewResult(operationID, v, patching.ResultSuccess, lastCmd, "")
}

func (s *strategy) plannedCommand(v patching.PatchableVulnerability) string {
	packages := patching.ExpandLinkedPackages([]string{v.PackageName})
	cmds := make([]string, 0, len(packages))
	for _, pkg := range packages {
		cmds = append(cmds, strings.Join(s.cmds.upgradeVersioned(pkg, v.FixedVersion), " "))
	}
	return strings.Join(cmds, " && ")
}
