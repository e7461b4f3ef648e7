// Package config defines the test file format for stampede runs.
//
// A config file can be YAML or JSON, chosen by extension. It describes the
// target endpoint, the dataset, the ramp plan and the thresholds:
//
//	name: employee ingest
//	target:
//	  address: localhost:8080
//	  path: /employee
//	dataset:
//	  file: output-database.json
//	  select: employees
//	scenario:
//	  startVUs: 1
//	  stages:
//	    - duration: 15m
//	      target: '1000'
//	thresholds:
//	  http_req_failed: ['rate<0.01']
//	  http_req_duration: ['p(99)<1000']
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration structure.
type TestConfig struct {
	// Name is shown in the report header
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Target   TargetConfig   `json:"target" yaml:"target"`
	Dataset  DatasetConfig  `json:"dataset" yaml:"dataset"`
	Scenario ScenarioConfig `json:"scenario" yaml:"scenario"`

	// Thresholds maps a metric name to its pass/fail expressions.
	Thresholds map[string][]ThresholdEntry `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	Evaluation EvaluationConfig `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`
	Tracing    TracingConfig    `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Metrics    MetricsConfig    `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Log        LogConfig        `json:"log,omitempty" yaml:"log,omitempty"`
}

// TargetConfig describes the endpoint every iteration posts to.
type TargetConfig struct {
	// Address is host:port, or a full URL which is used as is
	Address string `json:"address" yaml:"address"`

	// Scheme defaults to http
	Scheme string `json:"scheme,omitempty" yaml:"scheme,omitempty"`

	// Path defaults to /employee
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Method defaults to POST
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Timeout is the per-request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxRPS caps the request rate across all VUs, 0 = unlimited
	MaxRPS float64 `json:"maxRPS,omitempty" yaml:"maxRPS,omitempty"`

	// Retries is the number of sender-level retries on errors and 5xx
	Retries int `json:"retries,omitempty" yaml:"retries,omitempty"`

	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// DatasetConfig describes where the records come from.
type DatasetConfig struct {
	// File is a JSON or CSV file
	File string `json:"file" yaml:"file"`

	// Select is a gjson path to the record array, e.g. "employees"
	Select string `json:"select,omitempty" yaml:"select,omitempty"`

	// Schema is an optional JSON Schema file every record must satisfy
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	// IDField is the field overwritten with a fresh ID on every send
	IDField string `json:"idField,omitempty" yaml:"idField,omitempty"`

	StartIndex int `json:"startIndex,omitempty" yaml:"startIndex,omitempty"`

	// IDGenerator is "uuid" (default) or "ulid"
	IDGenerator string `json:"idGenerator,omitempty" yaml:"idGenerator,omitempty"`
}

// ScenarioConfig is the ramp plan.
type ScenarioConfig struct {
	StartVUs     int           `json:"startVUs" yaml:"startVUs"`
	Stages       []StageConfig `json:"stages" yaml:"stages"`
	GracefulStop Duration      `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// StageConfig is one ramp segment.
type StageConfig struct {
	Duration Duration    `json:"duration" yaml:"duration"`
	Target   StageTarget `json:"target" yaml:"target"`
}

// ThresholdEntry is a single expression. In a file it is either a plain
// string ("p(99)<1000") or an object with abort settings.
type ThresholdEntry struct {
	Threshold      string   `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool     `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval Duration `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

// EvaluationConfig controls the threshold evaluator.
type EvaluationConfig struct {
	// Interval between threshold checks
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// TracingConfig configures OTLP export of request spans.
type TracingConfig struct {
	Endpoint    string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string  `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Insecure    bool    `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	SampleRate  float64 `json:"sampleRate,omitempty" yaml:"sampleRate,omitempty"`
	ServiceName string  `json:"serviceName,omitempty" yaml:"serviceName,omitempty"`

	// Propagate injects W3C trace headers even when no exporter is configured
	Propagate bool `json:"propagate,omitempty" yaml:"propagate,omitempty"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	// Address for the /metrics listener, empty disables it
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from a Go duration
// string ("30s", "1h30m") or a bare number of seconds.
type Duration time.Duration

// ParseDuration parses a duration string or a number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s, err := unquoteJSON(b)
	if err != nil {
		return err
	}
	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	dur, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// StageTarget is a VU count written either as a number or a numeric string.
type StageTarget int

// UnmarshalJSON implements json.Unmarshaler.
func (t *StageTarget) UnmarshalJSON(b []byte) error {
	s, err := unquoteJSON(b)
	if err != nil {
		return err
	}
	return t.parse(s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *StageTarget) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: stage target must be a scalar", value.Line)
	}
	if err := t.parse(value.Value); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}

func (t *StageTarget) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*t = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid stage target %q", s)
	}
	*t = StageTarget(n)
	return nil
}

// UnmarshalJSON accepts a bare expression string or the object form.
func (e *ThresholdEntry) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &e.Threshold)
	}
	type plain ThresholdEntry
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = ThresholdEntry(p)
	return nil
}

// UnmarshalYAML accepts a bare expression string or the mapping form.
func (e *ThresholdEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		e.Threshold = value.Value
		return nil
	}
	type plain ThresholdEntry
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*e = ThresholdEntry(p)
	return nil
}

func unquoteJSON(b []byte) (string, error) {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return "", nil
	}
	if strings.HasPrefix(s, `"`) {
		var out string
		if err := json.Unmarshal(b, &out); err != nil {
			return "", err
		}
		return out, nil
	}
	return s, nil
}
