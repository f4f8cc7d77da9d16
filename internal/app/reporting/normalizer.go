package reporting

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"

	"github.com/harborguard/scanhub/internal/domain/scanning"
)

// The normalizer flattens each adapter's raw JSON into NormalizedFinding
// rows. Each adapter has its own wire shape and severity vocabulary; all of
// that is folded into the shared model here and never travels further.

// trivyReport is the subset of trivy's JSON output the normalizer reads.
type trivyReport struct {
	Results []struct {
		Type            string `json:"Type"`
		Vulnerabilities []struct {
			VulnerabilityID  string `json:"VulnerabilityID"`
			PkgName          string `json:"PkgName"`
			InstalledVersion string `json:"InstalledVersion"`
			FixedVersion     string `json:"FixedVersion"`
			Severity         string `json:"Severity"`
			Title            string `json:"Title"`
			CVSS             map[string]struct {
				V3Score float64 `json:"V3Score"`
			} `json:"CVSS"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

func normalizeTrivy(scanID uuid.UUID, blob json.RawMessage) []scanning.NormalizedFinding {
	var report trivyReport
	if err := json.Unmarshal(blob, &report); err != nil {
		return nil
	}

	var out []scanning.NormalizedFinding
	for _, result := range report.Results {
		for _, v := range result.Vulnerabilities {
			f := scanning.NormalizedFinding{
				ScanID:           scanID,
				Source:           "trivy",
				ID:               v.VulnerabilityID,
				Title:            v.Title,
				Severity:         scanning.ParseSeverity(v.Severity),
				Package:          v.PkgName,
				InstalledVersion: v.InstalledVersion,
				FixedVersion:     v.FixedVersion,
				PackageType:      result.Type,
			}
			// Prefer the NVD score; fall back to any vendor score present.
			if s, ok := v.CVSS["nvd"]; ok && s.V3Score > 0 {
				score := s.V3Score
				f.CVSS = &score
			} else {
				for _, s := range v.CVSS {
					if s.V3Score > 0 {
						score := s.V3Score
						f.CVSS = &score
						break
					}
				}
			}
			out = append(out, f)
		}
	}
	return out
}

// grypeReport is the subset of grype's JSON output the normalizer reads.
type grypeReport struct {
	Matches []struct {
		Vulnerability struct {
			ID          string `json:"id"`
			Severity    string `json:"severity"`
			Description string `json:"description"`
			CVSS        []struct {
				Metrics struct {
					BaseScore float64 `json:"baseScore"`
				} `json:"metrics"`
			} `json:"cvss"`
			Fix struct {
				Versions []string `json:"versions"`
				State    string   `json:"state"`
			} `json:"fix"`
		} `json:"vulnerability"`
		Artifact struct {
			Name    string `json:"name"`
			Version string `json:"version"`
			Type    string `json:"type"`
		} `json:"artifact"`
	} `json:"matches"`
}

func normalizeGrype(scanID uuid.UUID, blob json.RawMessage) []scanning.NormalizedFinding {
	var report grypeReport
	if err := json.Unmarshal(blob, &report); err != nil {
		return nil
	}

	var out []scanning.NormalizedFinding
	for _, m := range report.Matches {
		f := scanning.NormalizedFinding{
			ScanID:           scanID,
			Source:           "grype",
			ID:               m.Vulnerability.ID,
			Title:            m.Vulnerability.Description,
			Severity:         scanning.ParseSeverity(m.Vulnerability.Severity),
			Package:          m.Artifact.Name,
			InstalledVersion: m.Artifact.Version,
			PackageType:      m.Artifact.Type,
		}
		if m.Vulnerability.Fix.State == "fixed" && len(m.Vulnerability.Fix.Versions) > 0 {
			f.FixedVersion = m.Vulnerability.Fix.Versions[0]
		}
		if len(m.Vulnerability.CVSS) > 0 && m.Vulnerability.CVSS[0].Metrics.BaseScore > 0 {
			score := m.Vulnerability.CVSS[0].Metrics.BaseScore
			f.CVSS = &score
		}
		out = append(out, f)
	}
	return out
}

// osvReport is the subset of osv-scanner's JSON output the normalizer reads.
type osvReport struct {
	Results []struct {
		Packages []struct {
			Package struct {
				Name      string `json:"name"`
				Version   string `json:"version"`
				Ecosystem string `json:"ecosystem"`
			} `json:"package"`
			Vulnerabilities []struct {
				ID               string `json:"id"`
				Summary          string `json:"summary"`
				DatabaseSpecific struct {
					Severity string `json:"severity"`
				} `json:"database_specific"`
				Severity []struct {
					Type  string `json:"type"`
					Score string `json:"score"`
				} `json:"severity"`
				Affected []struct {
					Ranges []struct {
						Events []struct {
							Fixed string `json:"fixed"`
						} `json:"events"`
					} `json:"ranges"`
				} `json:"affected"`
			} `json:"vulnerabilities"`
		} `json:"packages"`
	} `json:"results"`
}

func normalizeOSV(scanID uuid.UUID, blob json.RawMessage) []scanning.NormalizedFinding {
	var report osvReport
	if err := json.Unmarshal(blob, &report); err != nil {
		return nil
	}

	var out []scanning.NormalizedFinding
	for _, result := range report.Results {
		for _, pkg := range result.Packages {
			for _, v := range pkg.Vulnerabilities {
				f := scanning.NormalizedFinding{
					ScanID:           scanID,
					Source:           "osv",
					ID:               v.ID,
					Title:            v.Summary,
					Severity:         scanning.ParseSeverity(v.DatabaseSpecific.Severity),
					Package:          pkg.Package.Name,
					InstalledVersion: pkg.Package.Version,
					PackageType:      pkg.Package.Ecosystem,
				}
				for _, a := range v.Affected {
					for _, r := range a.Ranges {
						for _, e := range r.Events {
							if e.Fixed != "" {
								f.FixedVersion = e.Fixed
							}
						}
					}
				}
				// OSV reports CVSS vectors as strings; only plain numeric
				// scores are usable here.
				for _, s := range v.Severity {
					if score, err := strconv.ParseFloat(s.Score, 64); err == nil && score > 0 {
						f.CVSS = &score
						break
					}
				}
				out = append(out, f)
			}
		}
	}
	return out
}

// dockleReport is the subset of dockle's JSON output the normalizer reads.
type dockleReport struct {
	Summary struct {
		Fatal int `json:"fatal"`
		Warn  int `json:"warn"`
		Info  int `json:"info"`
		Pass  int `json:"pass"`
	} `json:"summary"`
	Details []struct {
		Code   string   `json:"code"`
		Title  string   `json:"title"`
		Level  string   `json:"level"`
		Alerts []string `json:"alerts"`
	} `json:"details"`
}

// dockleSeverity maps dockle checkpoint levels into the normalized scale.
func dockleSeverity(level string) scanning.Severity {
	switch level {
	case "FATAL":
		return scanning.SeverityHigh
	case "WARN":
		return scanning.SeverityMedium
	default:
		return scanning.SeverityInfo
	}
}

func normalizeDockle(scanID uuid.UUID, blob json.RawMessage) []scanning.NormalizedFinding {
	var report dockleReport
	if err := json.Unmarshal(blob, &report); err != nil {
		return nil
	}

	var out []scanning.NormalizedFinding
	for _, d := range report.Details {
		out = append(out, scanning.NormalizedFinding{
			ScanID:   scanID,
			Source:   "dockle",
			ID:       d.Code,
			Title:    d.Title,
			Severity: dockleSeverity(d.Level),
		})
	}
	return out
}

// complianceTally extracts the dockle summary counts used for the
// compliance score.
func complianceTally(blob json.RawMessage) (fatal, warn, info, pass int, ok bool) {
	var report dockleReport
	if err := json.Unmarshal(blob, &report); err != nil {
		return 0, 0, 0, 0, false
	}
	s := report.Summary
	if s.Fatal == 0 && s.Warn == 0 && s.Info == 0 && s.Pass == 0 {
		return 0, 0, 0, 0, false
	}
	return s.Fatal, s.Warn, s.Info, s.Pass, true
}
