package threshold

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// Result is the evaluation state of one rule. Once Breached is set it
// stays set for the rest of the run.
type Result struct {
	Metric        string        `json:"metric"`
	Expression    string        `json:"expression"`
	AbortOnFail   bool          `json:"abortOnFail"`
	Evaluated     bool          `json:"evaluated"`
	Value         float64       `json:"value"`
	Breached      bool          `json:"breached"`
	BreachValue   float64       `json:"breachValue,omitempty"`
	FirstBreachAt time.Duration `json:"firstBreachAt,omitempty"`
}

// Passed reports whether the rule held for the whole run.
func (r Result) Passed() bool {
	return !r.Breached
}

// Evaluator re-checks rules against a Source and signals abort when a
// breached rule requests it.
type Evaluator struct {
	rules  []Rule
	src    Source
	logger zerolog.Logger

	mu          sync.Mutex
	results     []Result
	abortReason string

	abortCh   chan struct{}
	abortOnce sync.Once
}

// NewEvaluator creates an evaluator for rules over src.
func NewEvaluator(rules []Rule, src Source, logger zerolog.Logger) *Evaluator {
	results := make([]Result, len(rules))
	for i, r := range rules {
		results[i] = Result{
			Metric:      r.Metric,
			Expression:  r.Expression,
			AbortOnFail: r.AbortOnFail,
		}
	}
	return &Evaluator{
		rules:   rules,
		src:     src,
		logger:  logger.With().Str("component", "threshold").Logger(),
		results: results,
		abortCh: make(chan struct{}),
	}
}

// Evaluate checks every rule once against the current snapshot. elapsed is
// the time since the run started and gates DelayAbortEval. Nothing is
// evaluated before the first sample arrives.
func (e *Evaluator) Evaluate(elapsed time.Duration) []Result {
	return e.EvaluateSnapshot(e.src.GetSnapshot(), elapsed)
}

// EvaluateSnapshot is Evaluate against a caller-supplied snapshot.
func (e *Evaluator) EvaluateSnapshot(snap *metrics.Snapshot, elapsed time.Duration) []Result {
	if snap.TotalRequests == 0 {
		return e.Results()
	}

	e.mu.Lock()
	var abortRule *Rule
	for i := range e.rules {
		rule := &e.rules[i]
		res := &e.results[i]

		actual := rule.Observe(snap, e.src)
		res.Evaluated = true
		res.Value = actual

		if !res.Breached && !rule.Holds(actual) {
			res.Breached = true
			res.BreachValue = actual
			res.FirstBreachAt = elapsed
			e.logger.Warn().
				Str("metric", rule.Metric).
				Str("threshold", rule.Expression).
				Float64("value", actual).
				Dur("elapsed", elapsed).
				Bool("abort_on_fail", rule.AbortOnFail).
				Msg("Threshold breached")
		}

		if res.Breached && rule.AbortOnFail && elapsed >= rule.DelayAbortEval && abortRule == nil {
			abortRule = rule
		}
	}
	out := make([]Result, len(e.results))
	copy(out, e.results)
	e.mu.Unlock()

	if abortRule != nil {
		e.abort(fmt.Sprintf("threshold %s crossed", abortRule))
	}
	return out
}

func (e *Evaluator) abort(reason string) {
	e.abortOnce.Do(func() {
		e.mu.Lock()
		e.abortReason = reason
		e.mu.Unlock()
		e.logger.Error().Str("reason", reason).Msg("Aborting test run")
		close(e.abortCh)
	})
}

// Run evaluates on every tick until ctx is done.
func (e *Evaluator) Run(ctx context.Context, start time.Time, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Evaluate(time.Since(start))
		}
	}
}

// Aborted is closed when an abortOnFail rule has been breached.
func (e *Evaluator) Aborted() <-chan struct{} {
	return e.abortCh
}

// AbortReason returns why the evaluator aborted, or "" if it has not.
func (e *Evaluator) AbortReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.abortReason
}

// Results returns a copy of the current per-rule state.
func (e *Evaluator) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Result, len(e.results))
	copy(out, e.results)
	return out
}

// Breached returns the rules that failed at least once.
func (e *Evaluator) Breached() []Result {
	var out []Result
	for _, r := range e.Results() {
		if r.Breached {
			out = append(out, r)
		}
	}
	return out
}

// Passed reports whether no rule has been breached.
func (e *Evaluator) Passed() bool {
	return len(e.Breached()) == 0
}
