package scanning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  Severity
	}{
		{"CRITICAL", SeverityCritical},
		{"critical", SeverityCritical},
		{" High ", SeverityHigh},
		{"IMPORTANT", SeverityHigh},
		{"Moderate", SeverityMedium},
		{"MEDIUM", SeverityMedium},
		{"low", SeverityLow},
		{"MINOR", SeverityLow},
		{"Negligible", SeverityInfo},
		{"UNKNOWN", SeverityInfo},
		{"", SeverityInfo},
		{"garbage-value", SeverityInfo},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ParseSeverity(tc.input))
		})
	}
}

func TestWorstSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		severities []Severity
		want       Severity
	}{
		{name: "empty defaults to info", severities: nil, want: SeverityInfo},
		{name: "single", severities: []Severity{SeverityLow}, want: SeverityLow},
		{
			name:       "critical dominates",
			severities: []Severity{SeverityLow, SeverityCritical, SeverityMedium},
			want:       SeverityCritical,
		},
		{
			name:       "high beats medium",
			severities: []Severity{SeverityMedium, SeverityHigh},
			want:       SeverityHigh,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, WorstSeverity(tc.severities))
		})
	}
}

func TestSeverityOrdering(t *testing.T) {
	t.Parallel()

	ordered := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, ordered[i].Rank(), ordered[i-1].Rank())
		assert.GreaterOrEqual(t, ordered[i].Weight(), ordered[i-1].Weight())
	}
}
