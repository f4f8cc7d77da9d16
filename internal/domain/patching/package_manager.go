package patching

import "strings"

// PackageManager identifies the OS package manager family a patch strategy
// targets. Strategies are selected from a lookup map keyed by this enum; no
// inheritance hierarchy is involved.
type PackageManager string

const (
	PackageManagerApt PackageManager = "APT"
	PackageManagerYum PackageManager = "YUM"
	PackageManagerApk PackageManager = "APK"

	// PackageManagerUnknown marks ecosystems without an OS-level patch path
	// (language package managers, unrecognized types).
	PackageManagerUnknown PackageManager = "UNKNOWN"
)

// String returns the string representation of the PackageManager.
func (p PackageManager) String() string { return string(p) }

// ResolvePackageManager maps a package ecosystem string from normalized
// findings (Trivy/Grype class vocabularies) to the package manager family
// able to patch it.
func ResolvePackageManager(ecosystem string) PackageManager {
	switch strings.ToLower(strings.TrimSpace(ecosystem)) {
	case "deb", "debian", "ubuntu", "dpkg":
		return PackageManagerApt
	case "rpm", "redhat", "centos", "fedora", "amazon", "oracle", "rocky", "alma":
		return PackageManagerYum
	case "apk", "alpine":
		return PackageManagerApk
	default:
		return PackageManagerUnknown
	}
}

// Strategy summarizes which package-manager families participated in an
// operation: a single family, or Multi when findings spanned more than one.
type Strategy string

const (
	StrategyApt   Strategy = "APT"
	StrategyYum   Strategy = "YUM"
	StrategyApk   Strategy = "APK"
	StrategyMulti Strategy = "MULTI"
)

// StrategyForManagers derives the operation-level strategy label from the set
// of package managers involved.
func StrategyForManagers(managers []PackageManager) Strategy {
	if len(managers) != 1 {
		return StrategyMulti
	}
	switch managers[0] {
	case PackageManagerApt:
		return StrategyApt
	case PackageManagerYum:
		return StrategyYum
	case PackageManagerApk:
		return StrategyApk
	default:
		return StrategyMulti
	}
}
