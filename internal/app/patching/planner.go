package patching

import (
	"strings"

	"github.com/harborguard/scanhub/internal/domain/patching"
	"github.com/harborguard/scanhub/internal/domain/scanning"
)

// BuildPlan filters a scan's findings down to the vulnerabilities a patch
// operation can actually fix: a known fixed version, a resolvable OS package
// manager, and not reclassified as a false positive. An optional CVE
// allow-list restricts the plan further. Duplicate (package, CVE) pairs from
// different adapters collapse to one entry, first seen wins.
func BuildPlan(findings []scanning.NormalizedFinding, allowList []string) []patching.PatchableVulnerability {
	allowed := make(map[string]struct{}, len(allowList))
	for _, id := range allowList {
		allowed[strings.ToUpper(strings.TrimSpace(id))] = struct{}{}
	}

	seen := make(map[string]struct{})
	var plan []patching.PatchableVulnerability

	for _, f := range findings {
		if f.FalsePositive || f.Package == "" || !f.HasFix() {
			continue
		}
		manager := patching.ResolvePackageManager(f.PackageType)
		if manager == patching.PackageManagerUnknown {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[strings.ToUpper(f.ID)]; !ok {
				continue
			}
		}

		key := f.Package + "|" + f.ID
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		plan = append(plan, patching.PatchableVulnerability{
			CVEID:          f.ID,
			PackageName:    f.Package,
			CurrentVersion: f.InstalledVersion,
			FixedVersion:   f.FixedVersion,
			PackageManager: manager,
		})
	}
	return plan
}
