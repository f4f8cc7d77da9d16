package adapters

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

// stubRunner writes configured output to the adapter's output path and
// returns a configured error, standing in for the real CLI.
type stubRunner struct {
	output  string // written to the --output path before returning
	runErr  error
	name    string
	args    []string
	env     map[string]string
	version string
}

func (r *stubRunner) Run(_ context.Context, name string, args []string, env map[string]string) error {
	r.name = name
	r.args = args
	r.env = env

	if r.output != "" {
		if path := outputArg(args); path != "" {
			_ = os.WriteFile(path, []byte(r.output), 0o644)
		}
	}
	return r.runErr
}

func (r *stubRunner) Output(context.Context, string, []string) (string, error) {
	return r.version, nil
}

// outputArg finds the path the adapter asked the tool to write to.
func outputArg(args []string) string {
	for i, arg := range args {
		switch arg {
		case "--output", "--file", "--json":
			if i+1 < len(args) {
				next := args[i+1]
				if next == "json" { // grype: --output json --file <path>
					continue
				}
				// syft: --output spdx-json=<path>
				if idx := strings.Index(next, "="); idx >= 0 {
					return next[idx+1:]
				}
				return next
			}
		}
	}
	return ""
}

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

func TestTrivyAcceptsFindingsExitCode(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{
		output: `{"Results":[]}`,
		runErr: &ExitError{Code: 1, Stderr: "vulnerabilities found"},
	}
	trivy := NewTrivy(runner, testLogger())

	outputPath := filepath.Join(t.TempDir(), "trivy.json")
	err := trivy.Scan(context.Background(), "/tmp/image.tar", outputPath, nil)
	require.NoError(t, err, "exit 1 with valid output is a result")

	assert.Equal(t, "trivy", runner.name)
	assert.Contains(t, runner.args, "--input")
	assert.Contains(t, runner.args, "/tmp/image.tar")
}

func TestTrivyUnexpectedExitWritesSentinel(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{runErr: &ExitError{Code: 2, Stderr: "db corrupted"}}
	trivy := NewTrivy(runner, testLogger())

	outputPath := filepath.Join(t.TempDir(), "trivy.json")
	err := trivy.Scan(context.Background(), "/tmp/image.tar", outputPath, nil)
	require.Error(t, err)

	blob, rerr := os.ReadFile(outputPath)
	require.NoError(t, rerr)
	require.True(t, scanning.IsSentinel(blob))

	var sentinel scanning.SentinelError
	require.NoError(t, json.Unmarshal(blob, &sentinel))
	assert.Equal(t, "trivy", sentinel.Adapter)
	assert.Contains(t, sentinel.Error, "db corrupted")
}

func TestInvalidOutputWritesSentinel(t *testing.T) {
	t.Parallel()

	// Clean exit but garbage output: the blob is unusable.
	runner := &stubRunner{output: "not json"}
	grype := NewGrype(runner, testLogger())

	outputPath := filepath.Join(t.TempDir(), "grype.json")
	err := grype.Scan(context.Background(), "/tmp/image.tar", outputPath, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no parseable output")

	blob, rerr := os.ReadFile(outputPath)
	require.NoError(t, rerr)
	assert.True(t, scanning.IsSentinel(blob))
}

func TestMissingOutputWritesSentinel(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{} // clean exit, nothing written
	syft := NewSyft(runner, testLogger())

	outputPath := filepath.Join(t.TempDir(), "syft.json")
	err := syft.Scan(context.Background(), "/tmp/image.tar", outputPath, nil)
	require.Error(t, err)

	blob, rerr := os.ReadFile(outputPath)
	require.NoError(t, rerr)
	assert.True(t, scanning.IsSentinel(blob))
}

func TestAdapterArchiveReferences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		adapter Adapter
		runner  *stubRunner
		tool    string
		wantArg string
	}{
		{nil, &stubRunner{output: "{}"}, "grype", "docker-archive:/tmp/image.tar"},
		{nil, &stubRunner{output: "{}"}, "syft", "docker-archive:/tmp/image.tar"},
		{nil, &stubRunner{output: "{}"}, "dive", "docker-archive:///tmp/image.tar"},
		{nil, &stubRunner{output: "{}"}, "osv-scanner", "--archive"},
		{nil, &stubRunner{output: "{}"}, "dockle", "--input"},
	}
	tests[0].adapter = NewGrype(tests[0].runner, testLogger())
	tests[1].adapter = NewSyft(tests[1].runner, testLogger())
	tests[2].adapter = NewDive(tests[2].runner, testLogger())
	tests[3].adapter = NewOSV(tests[3].runner, testLogger())
	tests[4].adapter = NewDockle(tests[4].runner, testLogger())

	for _, tc := range tests {
		t.Run(tc.tool, func(t *testing.T) {
			t.Parallel()

			outputPath := filepath.Join(t.TempDir(), "out.json")
			require.NoError(t, tc.adapter.Scan(context.Background(), "/tmp/image.tar", outputPath, nil))
			assert.Equal(t, tc.tool, tc.runner.name)
			assert.Contains(t, tc.runner.args, tc.wantArg)
		})
	}
}

func TestScanPassesEnvThrough(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{output: "{}"}
	trivy := NewTrivy(runner, testLogger())

	outputPath := filepath.Join(t.TempDir(), "trivy.json")
	env := map[string]string{"TRIVY_SEVERITY": "HIGH,CRITICAL"}
	require.NoError(t, trivy.Scan(context.Background(), "/tmp/image.tar", outputPath, env))
	assert.Equal(t, env, runner.env)
}

func TestDefaultAdaptersOrder(t *testing.T) {
	t.Parallel()

	list := DefaultAdapters(NewRunner(0), testLogger())
	names := make([]string, len(list))
	for i, a := range list {
		names[i] = a.Name()
	}
	assert.Equal(t, []string{"trivy", "grype", "syft", "dockle", "osv", "dive"}, names)
}

func TestMergeEnv(t *testing.T) {
	t.Parallel()

	merged := mergeEnv([]string{"PATH=/usr/bin"}, map[string]string{"FOO": "bar"})
	assert.Contains(t, merged, "PATH=/usr/bin")
	assert.Contains(t, merged, "FOO=bar")

	assert.Equal(t, []string{"PATH=/usr/bin"}, mergeEnv([]string{"PATH=/usr/bin"}, nil))
}

func TestTail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", tail("  short  ", 512))
	assert.Equal(t, "cdef", tail("abcdef", 4))
}
