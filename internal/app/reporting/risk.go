package reporting

import (
	"github.com/harborguard/scanhub/internal/domain/scanning"
)

// cvssBlendWeight is the share of the final risk score contributed by the
// mean CVSS of scored findings; the rest comes from the weighted severity
// sum over correlated identifiers. Counting each identifier once keeps a CVE
// reported by three adapters from tripling the score.
const cvssBlendWeight = 0.2

// ComputeRiskScore aggregates correlations and findings into a 0-100 risk
// score. Severity weights come from the correlation's worst severity; the
// CVSS blend uses every non-false-positive finding carrying a score.
func ComputeRiskScore(correlations []scanning.FindingCorrelation, findings []scanning.NormalizedFinding) int {
	var weighted float64
	for _, c := range correlations {
		weighted += c.WorstSeverity.Weight()
	}
	if weighted > 100 {
		weighted = 100
	}

	var cvssSum float64
	var cvssCount int
	for _, f := range findings {
		if f.FalsePositive || f.CVSS == nil {
			continue
		}
		cvssSum += *f.CVSS
		cvssCount++
	}

	score := weighted
	if cvssCount > 0 {
		meanCVSS := cvssSum / float64(cvssCount)
		score = (1-cvssBlendWeight)*weighted + cvssBlendWeight*(meanCVSS*10)
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score + 0.5)
}

// ComputeComplianceScore turns a dockle fatal/warn/info tally into a 0-100
// compliance score.
func ComputeComplianceScore(fatal, warn, info int) int {
	score := 100 - fatal*20 - warn*5 - info*1
	if score < 0 {
		score = 0
	}
	return score
}

// LetterGrade maps a compliance score to its grade band.
func LetterGrade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
