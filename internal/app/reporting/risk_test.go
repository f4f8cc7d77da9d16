package reporting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harborguard/scanhub/internal/domain/scanning"
)

func cvss(v float64) *float64 { return &v }

func TestComputeRiskScoreSeverityOnly(t *testing.T) {
	t.Parallel()

	correlations := []scanning.FindingCorrelation{
		{WorstSeverity: scanning.SeverityCritical},
		{WorstSeverity: scanning.SeverityLow},
	}

	// No CVSS data present, so the score is the pure severity sum.
	want := int(scanning.SeverityCritical.Weight() + scanning.SeverityLow.Weight() + 0.5)
	assert.Equal(t, want, ComputeRiskScore(correlations, nil))
}

func TestComputeRiskScoreBlendsCVSS(t *testing.T) {
	t.Parallel()

	correlations := []scanning.FindingCorrelation{
		{WorstSeverity: scanning.SeverityHigh},
	}
	findings := []scanning.NormalizedFinding{
		{CVSS: cvss(8.0)},
		{CVSS: cvss(6.0)},
		{CVSS: cvss(10.0), FalsePositive: true}, // excluded from the mean
		{CVSS: nil},
	}

	weighted := scanning.SeverityHigh.Weight()
	want := int((1-cvssBlendWeight)*weighted + cvssBlendWeight*70 + 0.5)
	assert.Equal(t, want, ComputeRiskScore(correlations, findings))
}

func TestComputeRiskScoreClampsAt100(t *testing.T) {
	t.Parallel()

	correlations := make([]scanning.FindingCorrelation, 50)
	for i := range correlations {
		correlations[i] = scanning.FindingCorrelation{WorstSeverity: scanning.SeverityCritical}
	}

	assert.Equal(t, 100, ComputeRiskScore(correlations, nil))
}

func TestComputeRiskScoreEmpty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, ComputeRiskScore(nil, nil))
}

func TestComputeComplianceScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		fatal, warn, info int
		want              int
	}{
		{"clean image", 0, 0, 0, 100},
		{"warnings only", 0, 2, 3, 87},
		{"fatal dominates", 1, 1, 0, 75},
		{"floor at zero", 6, 0, 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ComputeComplianceScore(tc.fatal, tc.warn, tc.info))
		})
	}
}

func TestLetterGrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score int
		want  string
	}{
		{100, "A"}, {90, "A"},
		{89, "B"}, {80, "B"},
		{79, "C"}, {70, "C"},
		{69, "D"}, {60, "D"},
		{59, "F"}, {0, "F"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, LetterGrade(tc.score), "score %d", tc.score)
	}
}
