// Package adapters wraps the third-party scanner CLIs behind a uniform
// contract. Each adapter invokes one external tool against a locally-exported
// image archive and writes raw JSON to an output path; adapters are swappable
// and registered in a static ordered list.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

// Adapter is the uniform wrapper contract for one external scanning tool.
type Adapter interface {
	// Name returns the adapter's registry key, also used as the report key
	// in the ScanReports bag.
	Name() string

	// Version returns the wrapped tool's version string.
	Version(ctx context.Context) (string, error)

	// Scan runs the tool against the image archive at imagePath and writes
	// raw JSON output to outputPath. A non-zero exit that still produced
	// valid output is success; only missing or unparseable output is
	// failure, in which case a sentinel error document is written to
	// outputPath before the error is returned so downstream aggregation
	// degrades gracefully.
	Scan(ctx context.Context, imagePath, outputPath string, env map[string]string) error
}

// DefaultAdapters builds the static adapter list in execution order.
// grype and osv-scanner generate their own SBOMs rather than consuming
// syft's output, so no adapter depends on another's execution order.
func DefaultAdapters(runner Runner, log *logger.Logger) []Adapter {
	return []Adapter{
		NewTrivy(runner, log),
		NewGrype(runner, log),
		NewSyft(runner, log),
		NewDockle(runner, log),
		NewOSV(runner, log),
		NewDive(runner, log),
	}
}

// VulnerabilityAdapterCount is the number of registered adapters able to
// report CVE identifiers; it bounds the correlation confidence denominator.
const VulnerabilityAdapterCount = 3 // trivy, grype, osv-scanner

// finishScan implements the shared post-invocation policy for all adapters:
// accept listed non-zero exit codes, require valid JSON output, and write
// the sentinel document when the run failed.
func finishScan(adapter string, outputPath string, runErr error, okExitCodes ...int) error {
	if runErr != nil {
		if exit, ok := runErr.(*ExitError); ok && containsInt(okExitCodes, exit.Code) {
			// Findings-present exit code: a result, not an error.
			runErr = nil
		}
	}

	if runErr == nil {
		if err := validateJSONFile(outputPath); err == nil {
			return nil
		}
		runErr = fmt.Errorf("%s produced no parseable output", adapter)
	}

	writeSentinel(adapter, outputPath, runErr)
	return runErr
}

func validateJSONFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 || !json.Valid(data) {
		return fmt.Errorf("invalid JSON in %s", path)
	}
	return nil
}

func writeSentinel(adapter, outputPath string, cause error) {
	doc, err := json.Marshal(scanning.NewSentinelError(adapter, cause))
	if err != nil {
		return
	}
	// Best effort: if the sentinel cannot be written the blob is simply
	// absent from the bag.
	_ = os.WriteFile(outputPath, doc, 0o644)
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
