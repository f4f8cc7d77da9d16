package scanning

import "strings"

// Severity is the normalized severity vocabulary all adapter outputs are
// mapped into. Adapter-specific terms ("negligible", "unknown", "UNIMPORTANT")
// are folded into this five-level scale at the normalization boundary; raw
// vocabularies never travel past it.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// String returns the string representation of the Severity.
func (s Severity) String() string { return string(s) }

// Rank orders severities for worst-of comparisons; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Weight returns the risk-score contribution per finding of this severity.
// Critical findings weigh far more than low ones.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 25.0
	case SeverityHigh:
		return 10.0
	case SeverityMedium:
		return 3.0
	case SeverityLow:
		return 1.0
	default:
		return 0.0
	}
}

// ParseSeverity maps an adapter severity string into the normalized scale.
// Unknown and informational vocabularies map to Info.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH", "IMPORTANT":
		return SeverityHigh
	case "MEDIUM", "MODERATE":
		return SeverityMedium
	case "LOW", "MINOR":
		return SeverityLow
	case "NEGLIGIBLE", "UNKNOWN", "INFO", "INFORMATIONAL", "NONE", "UNIMPORTANT", "":
		return SeverityInfo
	default:
		return SeverityInfo
	}
}

// WorstSeverity returns the highest-ranked severity in the slice, or Info for
// an empty slice.
func WorstSeverity(severities []Severity) Severity {
	worst := SeverityInfo
	for _, s := range severities {
		if s.Rank() > worst.Rank() {
			worst = s
		}
	}
	return worst
}
