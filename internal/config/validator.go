package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/wesleyorama2/stampede/internal/performance/threshold"
	"github.com/wesleyorama2/stampede/pkg/idgen"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the whole configuration and returns every problem at
// once as *ValidationErrors, or nil. Call it after ApplyDefaults.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateTarget(&c.Target, errs)
	validateDataset(&c.Dataset, errs)
	validateScenario(&c.Scenario, errs)
	validateThresholds(c.Thresholds, errs)

	if c.Evaluation.Interval < 0 {
		errs.Add("evaluation.interval", "interval must be >= 0")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs.Add("tracing.sampleRate", "sampleRate must be between 0 and 1")
	}
	if p := strings.ToLower(c.Tracing.Protocol); p != "" && p != "grpc" && p != "http" {
		errs.Add("tracing.protocol", fmt.Sprintf("unknown protocol %q (use grpc or http)", c.Tracing.Protocol))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		errs.Add("log.format", fmt.Sprintf("unknown format %q (use console or json)", c.Log.Format))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateTarget(t *TargetConfig, errs *ValidationErrors) {
	if strings.TrimSpace(t.Address) == "" {
		errs.Add("target.address", "target address is required (set target.address, TARGET_URL or --target)")
	} else {
		u, err := url.Parse(t.URL())
		switch {
		case err != nil:
			errs.Add("target.address", fmt.Sprintf("invalid target URL: %v", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs.Add("target.scheme", fmt.Sprintf("unsupported scheme %q", u.Scheme))
		case u.Host == "":
			errs.Add("target.address", "target URL has no host")
		}
	}

	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
	}
	if t.Method != "" && !validMethods[strings.ToUpper(t.Method)] {
		errs.Add("target.method", fmt.Sprintf("invalid HTTP method: %s", t.Method))
	}
	if t.Timeout < 0 {
		errs.Add("target.timeout", "timeout must be >= 0")
	}
	if t.MaxRPS < 0 {
		errs.Add("target.maxRPS", "maxRPS must be >= 0")
	}
	if t.Retries < 0 {
		errs.Add("target.retries", "retries must be >= 0")
	}
}

func validateDataset(d *DatasetConfig, errs *ValidationErrors) {
	if strings.TrimSpace(d.File) == "" {
		errs.Add("dataset.file", "dataset file is required")
	}
	if d.StartIndex < 0 {
		errs.Add("dataset.startIndex", "startIndex must be >= 0")
	}
	if _, err := idgen.New(d.IDGenerator); err != nil {
		errs.Add("dataset.idGenerator", err.Error())
	}
}

func validateScenario(s *ScenarioConfig, errs *ValidationErrors) {
	if s.StartVUs < 0 {
		errs.Add("scenario.startVUs", "startVUs must be >= 0")
	}
	if len(s.Stages) == 0 {
		errs.Add("scenario.stages", "at least one stage is required")
	}

	var total Duration
	for i, st := range s.Stages {
		if st.Duration < 0 {
			errs.Add(fmt.Sprintf("scenario.stages[%d].duration", i), "duration must be >= 0")
		}
		if st.Target < 0 {
			errs.Add(fmt.Sprintf("scenario.stages[%d].target", i), "target must be >= 0")
		}
		total += st.Duration
	}
	if len(s.Stages) > 0 && total <= 0 {
		errs.Add("scenario.stages", "total stage duration must be > 0")
	}
	if s.GracefulStop < 0 {
		errs.Add("scenario.gracefulStop", "gracefulStop must be >= 0")
	}
}

func validateThresholds(thresholds map[string][]ThresholdEntry, errs *ValidationErrors) {
	metrics := make([]string, 0, len(thresholds))
	for m := range thresholds {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	for _, metric := range metrics {
		for i, e := range thresholds[metric] {
			field := fmt.Sprintf("thresholds.%s[%d]", metric, i)
			if _, err := threshold.Parse(metric, e.Threshold); err != nil {
				errs.Add(field, err.Error())
			}
			if e.DelayAbortEval < 0 {
				errs.Add(field+".delayAbortEval", "delayAbortEval must be >= 0")
			}
		}
	}
}
