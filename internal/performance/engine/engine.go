// Package engine wires the dataset, iteration unit, ramp executor, metrics
// and threshold evaluator into a single run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/executor"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
	"github.com/wesleyorama2/stampede/pkg/dataset"
)

// Startup errors. New wraps them so callers can match with errors.Is.
var (
	ErrNoTarget          = errors.New("no target address configured")
	ErrInvalidStages     = errors.New("invalid stage plan")
	ErrInvalidThresholds = errors.New("invalid thresholds")
	ErrAlreadyRunning    = errors.New("engine is already running")
)

// Options is everything a run needs. Dataset, Sender and IDs are required.
type Options struct {
	Name string

	// TargetURL is the fully resolved address every iteration posts to.
	TargetURL string
	Headers   http.Header

	Dataset    *dataset.Dataset
	StartIndex int
	IDField    string

	Sender performance.Sender
	IDs    performance.IDGenerator

	// Check overrides the default status==200 check.
	Check     performance.CheckFunc
	CheckName string

	Executor   executor.Config
	Thresholds []threshold.Definition

	// EvaluationInterval is the threshold tick (default 1s).
	EvaluationInterval time.Duration

	// MetricsConfig overrides the metrics engine defaults.
	MetricsConfig *metrics.EngineConfig

	Observers []metrics.Observer
	Logger    zerolog.Logger
}

// Engine is the main orchestrator for a load run.
//
// Example usage:
//
//	eng, err := engine.New(opts)
//	report, err := eng.Run(ctx)
//	fmt.Printf("passed: %v\n", report.Passed)
type Engine struct {
	opts   Options
	rules  []threshold.Rule
	logger zerolog.Logger

	mu        sync.RWMutex
	running   bool
	done      bool
	metrics   *metrics.Engine
	ramp      *executor.RampingVUs
	evaluator *threshold.Evaluator
}

// New performs every startup check and returns an engine ready to Run.
// No traffic is generated and no sample is recorded until Run is called.
func New(opts Options) (*Engine, error) {
	var errs []error

	if opts.TargetURL == "" {
		errs = append(errs, ErrNoTarget)
	}
	if opts.Dataset.Len() == 0 {
		errs = append(errs, dataset.ErrEmptyDataset)
	}
	if err := opts.Executor.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidStages, err))
	}
	rules, err := threshold.ParseAll(opts.Thresholds)
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidThresholds, err))
	}
	if opts.Sender == nil {
		errs = append(errs, errors.New("no request sender configured"))
	}
	if opts.IDs == nil {
		errs = append(errs, errors.New("no id generator configured"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if opts.Name == "" {
		opts.Name = "stampede"
	}
	if opts.IDField == "" {
		opts.IDField = "id"
	}
	if opts.EvaluationInterval <= 0 {
		opts.EvaluationInterval = time.Second
	}
	if opts.CheckName == "" {
		opts.CheckName = performance.DefaultCheckName
		if opts.Check != nil {
			opts.CheckName = "custom check"
		}
	}

	return &Engine{
		opts:   opts,
		rules:  rules,
		logger: opts.Logger.With().Str("component", "engine").Logger(),
	}, nil
}

// Run executes the ramp plan and returns the final report. The report's
// Passed field carries the verdict; err is reserved for failures to run.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	if e.running || e.done {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.done = true
		e.mu.Unlock()
	}()

	mcfg := metrics.DefaultEngineConfig()
	if e.opts.MetricsConfig != nil {
		mcfg = *e.opts.MetricsConfig
	}
	m := metrics.NewEngineWithConfig(mcfg, e.opts.Observers...)
	defer m.Stop()

	cursor, err := dataset.NewCursor(e.opts.Dataset, e.opts.StartIndex)
	if err != nil {
		return nil, err
	}

	iteration, err := performance.NewIteration(cursor, e.opts.IDs, e.opts.Sender, m, performance.IterationConfig{
		URL:       e.opts.TargetURL,
		Headers:   e.opts.Headers,
		IDField:   e.opts.IDField,
		CheckName: e.opts.CheckName,
		Check:     e.opts.Check,
	})
	if err != nil {
		return nil, err
	}

	pool := performance.NewVUPool(iteration, m, e.opts.Logger)
	ramp, err := executor.NewRampingVUs(e.opts.Executor, pool, e.opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStages, err)
	}
	evaluator := threshold.NewEvaluator(e.rules, m, e.opts.Logger)

	e.mu.Lock()
	e.metrics, e.ramp, e.evaluator = m, ramp, evaluator
	e.mu.Unlock()

	start := time.Now()
	e.logger.Info().
		Str("name", e.opts.Name).
		Str("target", e.opts.TargetURL).
		Int("records", e.opts.Dataset.Len()).
		Int("thresholds", len(e.rules)).
		Msg("Test started")

	// Periodic evaluation stops with the plan; the drain is covered by the
	// final evaluation below.
	evalCtx, cancelEval := context.WithCancel(context.Background())
	var evalWg sync.WaitGroup
	evalWg.Add(2)
	go func() {
		defer evalWg.Done()
		evaluator.Run(evalCtx, start, e.opts.EvaluationInterval)
	}()
	go func() {
		defer evalWg.Done()
		select {
		case <-ramp.Ended():
			cancelEval()
		case <-evalCtx.Done():
		}
	}()

	state, runErr := ramp.Run(ctx, evaluator.Aborted())

	cancelEval()
	evalWg.Wait()
	m.Stop()

	// Retirement publishes 0 VUs; gauges are judged as the plan left them.
	final := m.GetSnapshot()
	final.ActiveVUs = ramp.FinalVUs()
	evaluator.EvaluateSnapshot(final, time.Since(start))
	end := time.Now()

	report := e.buildReport(start, end, state, ramp, pool, final, m, evaluator)

	e.logger.Info().
		Str("state", state.String()).
		Bool("passed", report.Passed).
		Int64("iterations", report.Iterations).
		Dur("duration", report.Duration).
		Msg("Test finished")

	return report, runErr
}

func (e *Engine) buildReport(start, end time.Time, state executor.State, ramp *executor.RampingVUs,
	pool *performance.VUPool, snap *metrics.Snapshot, m *metrics.Engine, evaluator *threshold.Evaluator) *Report {
	results := evaluator.Results()

	report := &Report{
		Name:       e.opts.Name,
		Target:     e.opts.TargetURL,
		StartTime:  start,
		EndTime:    end,
		Duration:   end.Sub(start),
		State:      state,
		Iterations: pool.Iterations(),
		MaxVUs:     pool.MaxLive(),
		Snapshot:   snap,
		TimeSeries: m.GetTimeSeries(),
		Thresholds: results,
		Passed:     true,
	}

	if state == executor.StateAborted {
		switch ramp.StopReason() {
		case executor.ReasonThreshold:
			report.AbortReason = evaluator.AbortReason()
		default:
			report.AbortReason = ramp.StopReason()
		}
	}

	for _, r := range results {
		if r.Breached {
			report.Breached = append(report.Breached, r)
			report.Passed = false
		}
	}

	report.Metrics = summarize(snap, m, report.Duration, e.opts.CheckName)
	return report
}

// Live returns the current metrics snapshot and executor stats of a run in
// progress. ok is false before Run has wired its components.
func (e *Engine) Live() (snap *metrics.Snapshot, stats *executor.Stats, ok bool) {
	e.mu.RLock()
	m, ramp := e.metrics, e.ramp
	e.mu.RUnlock()
	if m == nil || ramp == nil {
		return nil, nil, false
	}
	return m.GetSnapshot(), ramp.GetStats(), true
}

// Progress returns the fraction of the ramp plan completed (0.0 to 1.0).
func (e *Engine) Progress() float64 {
	e.mu.RLock()
	ramp := e.ramp
	e.mu.RUnlock()
	if ramp == nil {
		return 0
	}
	return ramp.GetProgress()
}

// Rules returns the parsed threshold rules.
func (e *Engine) Rules() []threshold.Rule {
	out := make([]threshold.Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// TotalDuration returns the planned length of the run.
func (e *Engine) TotalDuration() time.Duration {
	return e.opts.Executor.TotalDuration()
}
