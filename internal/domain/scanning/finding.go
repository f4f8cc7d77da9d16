package scanning

import (
	"github.com/google/uuid"
)

// NormalizedFinding is a single security or compliance observation flattened
// out of an adapter's raw output. Findings are derived deterministically from
// the ScanReports bag; recomputation replaces the scan's finding set
// wholesale rather than accumulating.
type NormalizedFinding struct {
	ScanID   uuid.UUID
	Source   string // adapter name that produced the finding
	ID       string // CVE id or rule code
	Title    string
	Severity Severity

	// Package-level detail, populated for vulnerability findings.
	Package          string
	InstalledVersion string
	FixedVersion     string
	PackageType      string // ecosystem string: deb, rpm, apk, npm, ...

	// CVSS is the numeric score where the adapter reported one; nil otherwise.
	CVSS *float64

	// FalsePositive marks findings excluded from score and correlation
	// recomputation after reclassification.
	FalsePositive bool
}

// HasFix reports whether the finding carries a known fixed version, making it
// a candidate for patching.
func (f NormalizedFinding) HasFix() bool {
	return f.FixedVersion != "" && f.FixedVersion != "unknown"
}

// FindingCorrelation groups findings that share an identifier across adapters.
// Multiple independent sources reporting the same CVE raise confidence in it.
type FindingCorrelation struct {
	ScanID        uuid.UUID
	ID            string
	Sources       []string
	SourceCount   int
	Confidence    float64 // SourceCount / knownAdapterCount, in (0,1]
	WorstSeverity Severity
}

// CorrelateFindings groups the findings by identifier and computes one
// correlation row per identifier seen. knownAdapters is the number of
// registered adapters capable of reporting the identifier class; it bounds
// the confidence denominator. Findings flagged false-positive are skipped.
func CorrelateFindings(scanID uuid.UUID, findings []NormalizedFinding, knownAdapters int) []FindingCorrelation {
	if knownAdapters <= 0 {
		knownAdapters = 1
	}

	type group struct {
		sources    map[string]struct{}
		order      []string
		severities []Severity
	}

	groups := make(map[string]*group)
	var order []string

	for _, f := range findings {
		if f.FalsePositive || f.ID == "" {
			continue
		}
		g, ok := groups[f.ID]
		if !ok {
			g = &group{sources: make(map[string]struct{})}
			groups[f.ID] = g
			order = append(order, f.ID)
		}
		if _, seen := g.sources[f.Source]; !seen {
			g.sources[f.Source] = struct{}{}
			g.order = append(g.order, f.Source)
		}
		g.severities = append(g.severities, f.Severity)
	}

	out := make([]FindingCorrelation, 0, len(groups))
	for _, id := range order {
		g := groups[id]
		out = append(out, FindingCorrelation{
			ScanID:        scanID,
			ID:            id,
			Sources:       g.order,
			SourceCount:   len(g.order),
			Confidence:    float64(len(g.order)) / float64(knownAdapters),
			WorstSeverity: WorstSeverity(g.severities),
		})
	}
	return out
}
