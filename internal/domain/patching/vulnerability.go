package patching

// PatchableVulnerability is a finding that can actually be fixed: it carries
// a known fixed version and resolves to a supported package manager. It
// exists only transiently during patch planning and is never persisted.
type PatchableVulnerability struct {
	CVEID          string
	PackageName    string
	CurrentVersion string
	FixedVersion   string
	PackageManager PackageManager
}

// linkedPackages maps packages that must be upgraded together. Upgrading one
// half of a coupled pair (the OpenSSL split libraries being the canonical
// case) leaves the image with mismatched library versions, so strategies
// expand their target set with these before issuing upgrade commands.
var linkedPackages = map[string][]string{
	"libssl3":      {"libcrypto3"},
	"libcrypto3":   {"libssl3"},
	"libssl1.1":    {"libcrypto1.1"},
	"libcrypto1.1": {"libssl1.1"},
	"openssl-libs": {"openssl"},
	"openssl":      {"openssl-libs"},
}

// LinkedPackages returns the packages that must accompany the named package
// in any upgrade, not including the package itself.
func LinkedPackages(name string) []string {
	return linkedPackages[name]
}

// ExpandLinkedPackages returns the packages plus every known-linked companion,
// deduplicated, preserving first-seen order.
func ExpandLinkedPackages(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))

	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	for _, name := range names {
		add(name)
		for _, linked := range linkedPackages[name] {
			add(linked)
		}
	}
	return out
}

// GroupByManager buckets patchable vulnerabilities by their package manager,
// dropping any with an unknown manager. The returned order slice preserves
// first-seen manager order for deterministic strategy execution.
func GroupByManager(vulns []PatchableVulnerability) (map[PackageManager][]PatchableVulnerability, []PackageManager) {
	groups := make(map[PackageManager][]PatchableVulnerability)
	var order []PackageManager

	for _, v := range vulns {
		if v.PackageManager == PackageManagerUnknown {
			continue
		}
		if _, ok := groups[v.PackageManager]; !ok {
			order = append(order, v.PackageManager)
		}
		groups[v.PackageManager] = append(groups[v.PackageManager], v)
	}
	return groups, order
}
