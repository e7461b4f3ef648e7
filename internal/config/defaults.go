package config

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/executor"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
	"github.com/wesleyorama2/stampede/internal/tracing"
	"github.com/wesleyorama2/stampede/pkg/dataset"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultName        = "stampede"
	DefaultScheme      = "http"
	DefaultPath        = "/employee"
	DefaultMethod      = http.MethodPost
	DefaultTimeout     = 30 * time.Second
	DefaultIDField     = "id"
	DefaultIDGenerator = "uuid"
	DefaultInterval    = time.Second
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "console"
)

// ApplyDefaults fills every optional field left empty.
func ApplyDefaults(cfg *TestConfig) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	t := &cfg.Target
	if t.Scheme == "" {
		t.Scheme = DefaultScheme
	}
	if t.Path == "" {
		t.Path = DefaultPath
	}
	if t.Method == "" {
		t.Method = DefaultMethod
	}
	t.Method = strings.ToUpper(t.Method)
	if t.Headers == nil {
		t.Headers = make(map[string]string)
	}
	if !hasHeader(t.Headers, "Content-Type") {
		t.Headers["Content-Type"] = "application/json"
	}
	if t.Timeout == 0 {
		t.Timeout = Duration(DefaultTimeout)
	}

	if cfg.Dataset.IDField == "" {
		cfg.Dataset.IDField = DefaultIDField
	}
	if cfg.Dataset.IDGenerator == "" {
		cfg.Dataset.IDGenerator = DefaultIDGenerator
	}

	if cfg.Evaluation.Interval == 0 {
		cfg.Evaluation.Interval = Duration(DefaultInterval)
	}

	if cfg.Tracing.Protocol == "" {
		cfg.Tracing.Protocol = "grpc"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultName
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// URL composes scheme://address+path. An address that already carries a
// scheme is returned unchanged.
func (t TargetConfig) URL() string {
	addr := strings.TrimSpace(t.Address)
	if addr == "" {
		return ""
	}
	if strings.Contains(addr, "://") {
		return addr
	}
	scheme := t.Scheme
	if scheme == "" {
		scheme = DefaultScheme
	}
	path := t.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + strings.TrimRight(addr, "/") + path
}

// HTTPHeaders returns the target headers in canonical form.
func (t TargetConfig) HTTPHeaders() http.Header {
	h := make(http.Header, len(t.Headers))
	for k, v := range t.Headers {
		h.Set(k, v)
	}
	return h
}

// ExecutorConfig converts the scenario into a ramp plan.
func (s ScenarioConfig) ExecutorConfig() executor.Config {
	stages := make([]executor.Stage, len(s.Stages))
	for i, st := range s.Stages {
		stages[i] = executor.Stage{
			Duration: time.Duration(st.Duration),
			Target:   int(st.Target),
		}
	}
	return executor.Config{
		StartVUs:     s.StartVUs,
		Stages:       stages,
		GracefulStop: time.Duration(s.GracefulStop),
	}
}

// ThresholdDefinitions flattens the thresholds map, ordered by metric name
// and then by position in the file.
func (c *TestConfig) ThresholdDefinitions() []threshold.Definition {
	metrics := make([]string, 0, len(c.Thresholds))
	for m := range c.Thresholds {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	var defs []threshold.Definition
	for _, m := range metrics {
		for _, e := range c.Thresholds[m] {
			defs = append(defs, threshold.Definition{
				Metric:         m,
				Expression:     e.Threshold,
				AbortOnFail:    e.AbortOnFail,
				DelayAbortEval: time.Duration(e.DelayAbortEval),
			})
		}
	}
	return defs
}

// LoadOptions returns the dataset loader options.
func (d DatasetConfig) LoadOptions() dataset.LoadOptions {
	return dataset.LoadOptions{Select: d.Select, SchemaFile: d.Schema}
}

// TracingOptions converts to the tracing package config.
func (t TracingConfig) TracingOptions() tracing.Config {
	return tracing.Config{
		Endpoint:    t.Endpoint,
		Protocol:    t.Protocol,
		Insecure:    t.Insecure,
		SampleRate:  t.SampleRate,
		ServiceName: t.ServiceName,
		Propagate:   t.Propagate,
	}
}
