package engine

import (
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/executor"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

// Report contains the complete results of a run.
type Report struct {
	// Test metadata
	Name      string        `json:"name"`
	Target    string        `json:"target"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	State       executor.State `json:"state"`
	AbortReason string         `json:"abortReason,omitempty"`

	Iterations int64 `json:"iterations"`
	MaxVUs     int   `json:"maxVUs"`

	Metrics    []MetricSummary       `json:"metrics"`
	Snapshot   *metrics.Snapshot     `json:"snapshot"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`

	// Threshold evaluation
	Thresholds []threshold.Result `json:"thresholds,omitempty"`
	Breached   []threshold.Result `json:"breached,omitempty"`
	Passed     bool               `json:"passed"`
}

// Aborted reports whether the run ended before its plan completed.
func (r *Report) Aborted() bool {
	return r.State == executor.StateAborted
}

// MetricValue is one named aggregate of a metric.
type MetricValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// MetricSummary holds the end-of-run aggregates for one metric. Trend
// values are in milliseconds.
type MetricSummary struct {
	Name   string        `json:"name"`
	Kind   string        `json:"kind"`
	Label  string        `json:"label,omitempty"`
	Values []MetricValue `json:"values"`
}

// Get returns the named aggregate.
func (s MetricSummary) Get(name string) (float64, bool) {
	for _, v := range s.Values {
		if v.Name == name {
			return v.Value, true
		}
	}
	return 0, false
}

// Metric returns the summary for name.
func (r *Report) Metric(name string) (MetricSummary, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return MetricSummary{}, false
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func summarize(snap *metrics.Snapshot, src threshold.Source, wall time.Duration, checkName string) []MetricSummary {
	rate := 0.0
	if wall > 0 {
		rate = float64(snap.TotalRequests) / wall.Seconds()
	}

	return []MetricSummary{
		{
			Name:  threshold.MetricChecks,
			Kind:  threshold.KindRate.String(),
			Label: checkName,
			Values: []MetricValue{
				{"rate", snap.SuccessRate()},
				{"passes", float64(snap.SuccessRequests)},
				{"fails", float64(snap.FailedRequests)},
			},
		},
		{
			Name: threshold.MetricReqDuration,
			Kind: threshold.KindTrend.String(),
			Values: []MetricValue{
				{"avg", ms(snap.Latency.Mean)},
				{"min", ms(snap.Latency.Min)},
				{"med", ms(snap.Latency.P50)},
				{"max", ms(snap.Latency.Max)},
				{"p(90)", ms(snap.Latency.P90)},
				{"p(95)", ms(snap.Latency.P95)},
				{"p(99)", ms(src.Percentile(99))},
			},
		},
		{
			Name: threshold.MetricReqFailed,
			Kind: threshold.KindRate.String(),
			Values: []MetricValue{
				{"rate", snap.ErrorRate},
				{"passes", float64(snap.FailedRequests)},
				{"fails", float64(snap.SuccessRequests)},
			},
		},
		{
			Name: threshold.MetricReqs,
			Kind: threshold.KindCounter.String(),
			Values: []MetricValue{
				{"count", float64(snap.TotalRequests)},
				{"rate", rate},
			},
		},
		{
			Name: threshold.MetricIterations,
			Kind: threshold.KindCounter.String(),
			Values: []MetricValue{
				{"count", float64(snap.TotalRequests)},
				{"rate", rate},
			},
		},
		{
			Name:   threshold.MetricVUs,
			Kind:   threshold.KindGauge.String(),
			Values: []MetricValue{{"value", float64(snap.ActiveVUs)}},
		},
		{
			Name:   threshold.MetricVUsMax,
			Kind:   threshold.KindGauge.String(),
			Values: []MetricValue{{"value", float64(snap.MaxVUs)}},
		},
	}
}
