package patching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborguard/scanhub/internal/domain/patching"
	"github.com/harborguard/scanhub/internal/domain/scanning"
)

func TestBuildPlanFiltersUnpatchable(t *testing.T) {
	t.Parallel()

	findings := []scanning.NormalizedFinding{
		{ID: "CVE-1", Package: "libssl3", InstalledVersion: "3.0.11-r0", FixedVersion: "3.0.13-r0", PackageType: "apk"},
		{ID: "CVE-2", Package: "bash", FixedVersion: "5.2-2", PackageType: "deb", FalsePositive: true},
		{ID: "CVE-3", Package: "zlib1g", PackageType: "deb"},                                  // no fix
		{ID: "CVE-4", Package: "curl", FixedVersion: "unknown", PackageType: "deb"},           // fix version unknown
		{ID: "CVE-5", Package: "lodash", FixedVersion: "4.17.21", PackageType: "npm"},         // no OS package manager
		{ID: "CVE-6", FixedVersion: "1.0", PackageType: "deb"},                                // no package name
		{ID: "CVE-7", Package: "openssl", FixedVersion: "3.0.13-1", PackageType: "debian"},
	}

	plan := BuildPlan(findings, nil)
	require.Len(t, plan, 2)
	assert.Equal(t, "CVE-1", plan[0].CVEID)
	assert.Equal(t, patching.PackageManagerApk, plan[0].PackageManager)
	assert.Equal(t, "CVE-7", plan[1].CVEID)
	assert.Equal(t, patching.PackageManagerApt, plan[1].PackageManager)
}

func TestBuildPlanCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	findings := []scanning.NormalizedFinding{
		{Source: "trivy", ID: "CVE-1", Package: "libssl3", FixedVersion: "3.0.13-r0", PackageType: "apk"},
		{Source: "grype", ID: "CVE-1", Package: "libssl3", FixedVersion: "3.0.14-r0", PackageType: "apk"},
		{Source: "grype", ID: "CVE-1", Package: "libcrypto3", FixedVersion: "3.0.13-r0", PackageType: "apk"},
	}

	plan := BuildPlan(findings, nil)
	require.Len(t, plan, 2, "same package+CVE collapses, different package survives")
	assert.Equal(t, "3.0.13-r0", plan[0].FixedVersion, "first seen wins")
}

func TestBuildPlanAllowList(t *testing.T) {
	t.Parallel()

	findings := []scanning.NormalizedFinding{
		{ID: "CVE-1", Package: "libssl3", FixedVersion: "3.0.13-r0", PackageType: "apk"},
		{ID: "CVE-2", Package: "bash", FixedVersion: "5.2-2", PackageType: "deb"},
	}

	plan := BuildPlan(findings, []string{" cve-2 "})
	require.Len(t, plan, 1, "allow list matching is case and whitespace insensitive")
	assert.Equal(t, "CVE-2", plan[0].CVEID)

	assert.Empty(t, BuildPlan(findings, []string{"CVE-9999"}))
}
