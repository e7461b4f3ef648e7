// Package threshold parses pass/fail conditions over run metrics and
// evaluates them against the live aggregate.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// Kind classifies a metric and decides which aggregates apply to it.
type Kind int

const (
	KindTrend Kind = iota
	KindRate
	KindCounter
	KindGauge
)

func (k Kind) String() string {
	switch k {
	case KindTrend:
		return "trend"
	case KindRate:
		return "rate"
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	default:
		return "unknown"
	}
}

// Built-in metric names.
const (
	MetricReqDuration = "http_req_duration"
	MetricReqFailed   = "http_req_failed"
	MetricReqs        = "http_reqs"
	MetricIterations  = "iterations"
	MetricChecks      = "checks"
	MetricVUs         = "vus"
	MetricVUsMax      = "vus_max"
)

var metricKinds = map[string]Kind{
	MetricReqDuration: KindTrend,
	MetricReqFailed:   KindRate,
	MetricReqs:        KindCounter,
	MetricIterations:  KindCounter,
	MetricChecks:      KindRate,
	MetricVUs:         KindGauge,
	MetricVUsMax:      KindGauge,
}

var kindAggregates = map[Kind][]string{
	KindTrend:   {"avg", "min", "med", "max", "p"},
	KindRate:    {"rate"},
	KindCounter: {"count", "rate"},
	KindGauge:   {"value"},
}

// MetricKind returns the kind of a built-in metric.
func MetricKind(metric string) (Kind, bool) {
	k, ok := metricKinds[metric]
	return k, ok
}

// Metrics returns the names of all built-in metrics, sorted.
func Metrics() []string {
	names := make([]string, 0, len(metricKinds))
	for name := range metricKinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	// ErrUnknownMetric is returned for a threshold on a metric that is never emitted.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrInvalidExpression is returned for a malformed threshold expression.
	ErrInvalidExpression = errors.New("invalid threshold expression")
)

var exprPattern = regexp.MustCompile(
	`^\s*(avg|min|max|med|count|rate|value|p\(\s*(\d+(?:\.\d+)?)\s*\))\s*(<=|>=|==|!=|<|>)\s*(-?\d+(?:\.\d+)?)\s*(ms|s|us|µs|m)?\s*$`)

// Rule is a parsed threshold. Trend values are in milliseconds.
type Rule struct {
	Metric         string
	Expression     string
	Aggregate      string
	Percentile     float64
	Operator       string
	Value          float64
	AbortOnFail    bool
	DelayAbortEval time.Duration
}

// Parse parses a k6-style expression such as "p(99)<1000" or "rate<0.01"
// for the given metric.
func Parse(metric, expr string) (Rule, error) {
	kind, ok := metricKinds[metric]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownMetric, metric, strings.Join(Metrics(), ", "))
	}

	m := exprPattern.FindStringSubmatch(expr)
	if m == nil {
		return Rule{}, fmt.Errorf("%w: %q (expected e.g. 'p(95)<500' or 'rate<0.01')", ErrInvalidExpression, expr)
	}

	rule := Rule{
		Metric:     metric,
		Expression: strings.TrimSpace(expr),
		Aggregate:  m[1],
		Operator:   m[3],
	}

	if m[2] != "" {
		rule.Aggregate = "p"
		p, err := strconv.ParseFloat(m[2], 64)
		if err != nil || p < 0 || p > 100 {
			return Rule{}, fmt.Errorf("%w: percentile %q out of range 0..100", ErrInvalidExpression, m[2])
		}
		rule.Percentile = p
	}

	if !aggregateAllowed(kind, rule.Aggregate) {
		return Rule{}, fmt.Errorf("%w: aggregate %q does not apply to %s metric %s", ErrInvalidExpression, m[1], kind, metric)
	}

	value, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: value %q: %v", ErrInvalidExpression, m[4], err)
	}

	if unit := m[5]; unit != "" {
		if kind != KindTrend {
			return Rule{}, fmt.Errorf("%w: unit %q is only valid on trend metrics", ErrInvalidExpression, unit)
		}
		value *= unitToMillis(unit)
	}
	rule.Value = value

	return rule, nil
}

func aggregateAllowed(kind Kind, agg string) bool {
	for _, a := range kindAggregates[kind] {
		if a == agg {
			return true
		}
	}
	return false
}

func unitToMillis(unit string) float64 {
	switch unit {
	case "us", "µs":
		return 0.001
	case "s":
		return 1000
	case "m":
		return 60000
	default:
		return 1
	}
}

// Definition is an unparsed threshold as it appears in configuration.
type Definition struct {
	Metric         string
	Expression     string
	AbortOnFail    bool
	DelayAbortEval time.Duration
}

// ParseAll parses every definition and reports all failures together.
func ParseAll(defs []Definition) ([]Rule, error) {
	rules := make([]Rule, 0, len(defs))
	var errs []error
	for i, d := range defs {
		r, err := Parse(d.Metric, d.Expression)
		if err != nil {
			errs = append(errs, fmt.Errorf("thresholds.%s[%d]: %w", d.Metric, i, err))
			continue
		}
		r.AbortOnFail = d.AbortOnFail
		r.DelayAbortEval = d.DelayAbortEval
		rules = append(rules, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rules, nil
}

// Source is the running aggregate rules are evaluated against.
type Source interface {
	GetSnapshot() *metrics.Snapshot
	Percentile(q float64) time.Duration
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Observe returns the current value of the rule's aggregate.
func (r Rule) Observe(snap *metrics.Snapshot, src Source) float64 {
	switch r.Metric {
	case MetricReqDuration:
		switch r.Aggregate {
		case "avg":
			return millis(snap.Latency.Mean)
		case "min":
			return millis(snap.Latency.Min)
		case "max":
			return millis(snap.Latency.Max)
		case "med":
			return millis(snap.Latency.P50)
		default:
			return millis(src.Percentile(r.Percentile))
		}
	case MetricReqFailed:
		return snap.ErrorRate
	case MetricChecks:
		return snap.SuccessRate()
	case MetricReqs, MetricIterations:
		if r.Aggregate == "rate" {
			return snap.RPS
		}
		return float64(snap.TotalRequests)
	case MetricVUs:
		return float64(snap.ActiveVUs)
	case MetricVUsMax:
		return float64(snap.MaxVUs)
	}
	return math.NaN()
}

// Holds reports whether the observed value satisfies the rule.
func (r Rule) Holds(actual float64) bool {
	if math.IsNaN(actual) {
		return false
	}
	const epsilon = 1e-9
	switch r.Operator {
	case "<":
		return actual < r.Value
	case "<=":
		return actual <= r.Value || math.Abs(actual-r.Value) < epsilon
	case ">":
		return actual > r.Value
	case ">=":
		return actual >= r.Value || math.Abs(actual-r.Value) < epsilon
	case "==":
		return math.Abs(actual-r.Value) < epsilon
	case "!=":
		return math.Abs(actual-r.Value) >= epsilon
	default:
		return false
	}
}

func (r Rule) String() string {
	return r.Metric + ": " + r.Expression
}
