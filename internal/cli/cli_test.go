package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const employeesJSON = `{"employees": [
	{"id": "1", "first_name": "Ada"},
	{"id": "2", "first_name": "Grace"},
	{"id": "3", "first_name": "Linus"}
]}`

type target struct {
	*httptest.Server
	calls atomic.Int64
}

func newTarget(t *testing.T, status int) *target {
	t.Helper()
	tg := &target{}
	tg.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tg.calls.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(tg.Close)
	return tg
}

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("TARGET_URL", "")
	t.Setenv("STAMPEDE_TARGET", "")
	var stdout, stderr bytes.Buffer
	code := Main(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func testConfig(t *testing.T, targetURL, datasetPath, failedThreshold string) string {
	t.Helper()
	cfg := `
name: cli test
target:
  address: ` + targetURL + `
dataset:
  file: ` + datasetPath + `
  select: employees
scenario:
  startVUs: 1
  stages:
    - duration: 300ms
      target: '2'
  gracefulStop: 1s
thresholds:
  http_req_failed:
    - ` + failedThreshold + `
  http_req_duration: ['p(99)<1000']
evaluation:
  interval: 0.05
log:
  level: warn
`
	return writeTemp(t, filepath.Dir(datasetPath), "test.yaml", cfg)
}

func TestRun_Pass(t *testing.T) {
	tg := newTarget(t, http.StatusOK)
	dir := t.TempDir()
	ds := writeTemp(t, dir, "employees.json", employeesJSON)
	cfgPath := testConfig(t, tg.URL, ds, "rate<0.01")
	reportPath := filepath.Join(dir, "report.json")

	code, stdout, stderr := runCLI(t, "run", "--config", cfgPath, "--output", reportPath)
	require.Equal(t, ExitOK, code, "stderr: %s", stderr)

	assert.Positive(t, tg.calls.Load())
	assert.Contains(t, stdout, "cli test - Running")
	assert.Contains(t, stdout, "Verdict:       PASSED")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, true, report["passed"])
	assert.Equal(t, "completed", report["state"])
}

func TestRun_ThresholdFailureExitCode(t *testing.T) {
	tg := newTarget(t, http.StatusInternalServerError)
	dir := t.TempDir()
	ds := writeTemp(t, dir, "employees.json", employeesJSON)
	cfgPath := testConfig(t, tg.URL, ds, "{threshold: 'rate<0.01', abortOnFail: true}")

	code, stdout, stderr := runCLI(t, "run", "--config", cfgPath)
	assert.Equal(t, ExitThresholds, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Verdict:       FAILED")
	assert.Contains(t, stdout, "aborted")
	assert.NotContains(t, stderr, "Error:")
}

func TestRun_QuickModeFromFlags(t *testing.T) {
	tg := newTarget(t, http.StatusOK)
	ds := writeTemp(t, t.TempDir(), "employees.json", employeesJSON)

	code, stdout, stderr := runCLI(t, "run",
		"--target", tg.URL,
		"--dataset", ds,
		"--select", "employees",
		"--stages", "200ms:1",
		"--log-level", "error",
		"--quiet",
	)
	require.Equal(t, ExitOK, code, "stderr: %s", stderr)
	assert.Equal(t, "PASSED\n", stdout)
	assert.Positive(t, tg.calls.Load())
}

func TestRun_FatalStartupSendsNothing(t *testing.T) {
	tests := []struct {
		name    string
		dataset string
		want    string
	}{
		{"missing dataset", "", "load dataset"},
		{"empty dataset", `{"employees": []}`, "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := newTarget(t, http.StatusOK)
			dir := t.TempDir()
			ds := filepath.Join(dir, "employees.json")
			if tt.dataset != "" {
				ds = writeTemp(t, dir, "employees.json", tt.dataset)
			}
			cfgPath := testConfig(t, tg.URL, ds, "rate<0.01")

			code, _, stderr := runCLI(t, "run", "--config", cfgPath)
			assert.Equal(t, ExitFatal, code)
			assert.Contains(t, stderr, tt.want)
			assert.Zero(t, tg.calls.Load())
		})
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	code, _, stderr := runCLI(t, "run", "--stages", "1s:1")
	assert.Equal(t, ExitFatal, code)
	assert.Contains(t, stderr, "target.address")
	assert.Contains(t, stderr, "dataset.file")
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	ds := filepath.Join(dir, "not-read.json")
	cfgPath := testConfig(t, "localhost:8080", ds, "{threshold: 'rate<0.01', abortOnFail: true}")

	code, stdout, stderr := runCLI(t, "validate", "--config", cfgPath)
	require.Equal(t, ExitOK, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Configuration is valid: cli test")
	assert.Contains(t, stdout, "POST http://localhost:8080/employee")
	assert.Contains(t, stdout, "http_req_failed: rate<0.01 [abortOnFail]")
	assert.Contains(t, stdout, "http_req_duration: p(99)<1000")
}

func TestValidate_BadThreshold(t *testing.T) {
	dir := t.TempDir()
	cfgPath := testConfig(t, "localhost:8080", filepath.Join(dir, "d.json"), "rate<<0.01")

	code, _, stderr := runCLI(t, "validate", "--config", cfgPath)
	assert.Equal(t, ExitFatal, code)
	assert.Contains(t, stderr, "thresholds.http_req_failed[0]")
}

func TestVersion(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "stampede "+version)
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "stomp")
	assert.Equal(t, ExitFatal, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestExitError(t *testing.T) {
	inner := errors.New("boom")
	err := &ExitError{Code: ExitThresholds, Err: inner}
	assert.Equal(t, "boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "exit status 1", (&ExitError{Code: 1}).Error())
}
