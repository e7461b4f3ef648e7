package output

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/executor"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{1 * time.Second, "1.0s"},
		{1*time.Minute + 30*time.Second, "1m 30s"},
		{1*time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0ms"},
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50ms"},
		{1500 * time.Millisecond, "1.50s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDurationShort(tt.duration))
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{100, "100"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{-4500, "-4,500"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatNumber(tt.number))
		})
	}
}

func TestFormatMetricValues(t *testing.T) {
	tests := []struct {
		name    string
		summary engine.MetricSummary
		want    string
	}{
		{
			name: "trend",
			summary: engine.MetricSummary{Kind: "trend", Values: []engine.MetricValue{
				{Name: "avg", Value: 10.5}, {Name: "max", Value: 1500}, {Name: "min", Value: 0.25},
			}},
			want: "avg=10.50ms max=1.50s min=250.00µs",
		},
		{
			name: "rate",
			summary: engine.MetricSummary{Kind: "rate", Values: []engine.MetricValue{
				{Name: "rate", Value: 0.02}, {Name: "passes", Value: 2}, {Name: "fails", Value: 98},
			}},
			want: "2.00% ✓ 2 ✗ 98",
		},
		{
			name: "counter",
			summary: engine.MetricSummary{Kind: "counter", Values: []engine.MetricValue{
				{Name: "count", Value: 1200}, {Name: "rate", Value: 99.5},
			}},
			want: "1,200 99.50/s",
		},
		{
			name:    "gauge",
			summary: engine.MetricSummary{Kind: "gauge", Values: []engine.MetricValue{{Name: "value", Value: 3}}},
			want:    "3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatMetricValues(tt.summary))
		})
	}
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "hello", stripANSI("\033[32mhello\033[0m"))
	assert.Equal(t, "plain", stripANSI("plain"))
	assert.Equal(t, 5, visibleLen("\033[1m✓ ok!\033[0m"))
}

func TestRenderProgressBar(t *testing.T) {
	assert.Equal(t, "[░░░░]", renderProgressBar(-1, 4))
	assert.Equal(t, "[██░░]", renderProgressBar(0.5, 4))
	assert.Equal(t, "[████]", renderProgressBar(2, 4))
}

func sampleReport(passed bool) *engine.Report {
	r := &engine.Report{
		Name:       "employee ingest",
		Target:     "http://localhost:8080/employee",
		Duration:   time.Second,
		State:      executor.StateCompleted,
		Iterations: 300,
		MaxVUs:     3,
		Metrics: []engine.MetricSummary{
			{Name: "checks", Kind: "rate", Label: "response code was 200", Values: []engine.MetricValue{
				{Name: "rate", Value: 1}, {Name: "passes", Value: 300}, {Name: "fails", Value: 0},
			}},
			{Name: "http_reqs", Kind: "counter", Values: []engine.MetricValue{
				{Name: "count", Value: 300}, {Name: "rate", Value: 300},
			}},
		},
		Thresholds: []threshold.Result{
			{Metric: "http_req_failed", Expression: "rate<0.01", Evaluated: true, Value: 0},
		},
		Passed: passed,
	}
	if !passed {
		r.State = executor.StateAborted
		r.AbortReason = "threshold http_req_failed: rate<0.01 crossed"
		r.Thresholds[0].Breached = true
		r.Thresholds[0].BreachValue = 0.02
		r.Thresholds[0].FirstBreachAt = 2 * time.Second
		r.Breached = r.Thresholds
	}
	return r
}

func TestPrintSummary_Passed(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf})
	out.PrintSummary(sampleReport(true))

	s := buf.String()
	assert.Contains(t, s, "employee ingest - Completed ✓")
	assert.Contains(t, s, "✓ response code was 200")
	assert.Contains(t, s, "http_reqs.......................: 300 300.00/s")
	assert.Contains(t, s, "✓ http_req_failed rate<0.01 (actual: 0)")
	assert.Contains(t, s, "End state:     completed")
	assert.Contains(t, s, "Verdict:       PASSED")
	assert.NotContains(t, s, "\033[", "no colors when not a terminal")
}

func TestPrintSummary_Failed(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf})
	out.PrintSummary(sampleReport(false))

	s := buf.String()
	assert.Contains(t, s, "Failed ✗")
	assert.Contains(t, s, "✗ http_req_failed rate<0.01 (breached at 2.0s with 0.02)")
	assert.Contains(t, s, "End state:     aborted (threshold http_req_failed: rate<0.01 crossed)")
	assert.Contains(t, s, "Verdict:       FAILED")
}

func TestPrintSummary_Quiet(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf, Quiet: true})
	out.PrintHeader()
	out.PrintSummary(sampleReport(false))
	assert.Equal(t, "FAILED\n", buf.String())
}

func TestPrintSummary_ForcedColors(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf, ForceColors: true})
	out.PrintSummary(sampleReport(true))
	assert.Contains(t, buf.String(), "\033[")
}

func TestPrintHeader(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{
		Writer:        &buf,
		TestName:      "employee ingest",
		Target:        "http://localhost:8080/employee",
		TotalDuration: 15 * time.Minute,
	})
	out.PrintHeader()

	s := buf.String()
	assert.Contains(t, s, "employee ingest - Running [ramping-vus]")
	assert.Contains(t, s, "Target:   http://localhost:8080/employee")
	assert.Contains(t, s, "Duration: 15m 00s")
}

func TestUpdate_RedrawsInPlace(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf, ForceTTY: true})
	require.True(t, out.IsTTY())

	stats := &LiveStats{Progress: 0.5, ActiveVUs: 2, TargetVUs: 3, TotalRequests: 1500, CurrentStage: 1, TotalStages: 1}
	out.Update(stats)
	first := buf.Len()
	assert.Contains(t, buf.String(), "VUs:     2 / 3")
	assert.Contains(t, buf.String(), "Requests:    1,500")

	out.Update(stats)
	assert.Contains(t, buf.String()[first:], "\033[8A", "second frame moves the cursor back up")
}

func TestUpdate_NoopWithoutTTY(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf})
	out.Update(&LiveStats{})
	assert.Zero(t, buf.Len())

	out.PrintNonInteractiveUpdate(&LiveStats{Elapsed: 2 * time.Second, Progress: 0.25, ActiveVUs: 1, TargetVUs: 4, TotalRequests: 10})
	assert.Equal(t, "[2.0s] Progress: 25% | VUs: 1/4 | Reqs: 10 | RPS: 0.0 | Errors: 0 (0.0%) | P95: 0ms\n", buf.String())
}

type fakeSource struct {
	polls atomic.Int32
}

func (f *fakeSource) Live() (*metrics.Snapshot, *executor.Stats, bool) {
	f.polls.Add(1)
	return &metrics.Snapshot{TotalRequests: 42, ActiveVUs: 2},
		&executor.Stats{TargetVUs: 2, TotalStages: 1, Elapsed: time.Second, TotalDuration: 2 * time.Second}, true
}

func (f *fakeSource) Progress() float64 { return 0.5 }

func TestWatch_PrintsUntilCancelled(t *testing.T) {
	var buf safeBuffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf})
	src := &fakeSource{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		out.Watch(ctx, src, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.polls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Contains(t, buf.String(), "Reqs: 42")
}

func TestStatsFromMetrics(t *testing.T) {
	snap := &metrics.Snapshot{
		TotalRequests:  100,
		FailedRequests: 2,
		ErrorRate:      0.02,
		ActiveVUs:      5,
		RPS:            50,
		Latency:        metrics.LatencyStats{P95: 20 * time.Millisecond, Mean: 10 * time.Millisecond},
	}
	stats := &executor.Stats{TargetVUs: 6, CurrentStage: 0, TotalStages: 2, Elapsed: 3 * time.Second, TotalDuration: 10 * time.Second}

	live := StatsFromMetrics(snap, stats, 0.3)
	assert.Equal(t, 5, live.ActiveVUs)
	assert.Equal(t, 6, live.TargetVUs)
	assert.Equal(t, 1, live.CurrentStage)
	assert.Equal(t, 7*time.Second, live.Remaining)
	assert.Equal(t, int64(2), live.Errors)
	assert.Equal(t, 20*time.Millisecond, live.LatencyP95)

	assert.NotPanics(t, func() { StatsFromMetrics(nil, nil, 0) })
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleReport(false)))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "employee ingest", decoded["name"])
	assert.Equal(t, "aborted", decoded["state"])
	assert.Equal(t, false, decoded["passed"])
	assert.Len(t, decoded["breached"], 1)
	assert.True(t, strings.HasPrefix(buf.String(), "{\n  "))
}

func TestWriteJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteJSONFile(path, sampleReport(true)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"passed": true`)

	assert.Error(t, WriteJSONFile(filepath.Join(t.TempDir(), "missing", "report.json"), sampleReport(true)))
}
