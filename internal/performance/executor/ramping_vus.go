package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/stampede/internal/performance"
)

// Reasons reported by StopReason for an aborted run.
const (
	ReasonThreshold   = "threshold"
	ReasonInterrupted = "interrupted"
)

// ErrAlreadyStarted is returned when Run is called twice.
var ErrAlreadyStarted = errors.New("executor already started")

// RampingVUs ramps VU count according to stages.
//
// The target is interpolated linearly between stage targets and
// re-applied to the pool on every controller tick, so the VU count
// changes smoothly rather than in steps.
//
// Example stages:
//
//	startVUs: 1
//	stages:
//	  - duration: 15m
//	    target: 1000   # Ramp from 1 to 1000 VUs over 15m
type RampingVUs struct {
	config Config
	pool   *performance.VUPool
	logger zerolog.Logger

	state        atomic.Int32
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	finalVUs     atomic.Int32
	ended        chan struct{}

	mu         sync.RWMutex
	startTime  time.Time
	endTime    time.Time
	stopReason string
}

// NewRampingVUs creates a ramping executor over pool.
func NewRampingVUs(config Config, pool *performance.VUPool, logger zerolog.Logger) (*RampingVUs, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errors.New("executor: pool is required")
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	return &RampingVUs{
		config: config,
		pool:   pool,
		logger: logger.With().Str("component", "executor").Logger(),
		ended:  make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (e *RampingVUs) State() State {
	return State(e.state.Load())
}

// StopReason returns why an aborted run ended, or "".
func (e *RampingVUs) StopReason() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopReason
}

// Run executes the plan and blocks until it completes, abort is closed or
// ctx is cancelled. In-flight iterations are waited for; with a non-zero
// GracefulStop their context is cancelled once it expires.
func (e *RampingVUs) Run(ctx context.Context, abort <-chan struct{}) (State, error) {
	if !e.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		return e.State(), ErrAlreadyStarted
	}

	// Iterations outlive ctx. Only an expired GracefulStop cancels them.
	iterCtx, iterCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer iterCancel()

	start := time.Now()
	e.mu.Lock()
	e.startTime = start
	e.mu.Unlock()

	totalDuration := e.config.TotalDuration()
	e.logger.Info().
		Int("start_vus", e.config.StartVUs).
		Int("stages", len(e.config.Stages)).
		Dur("duration", totalDuration).
		Msg("Ramp started")

	e.adjust(iterCtx, 0)

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(totalDuration)
	defer deadline.Stop()

	final := StateCompleted
	reason := ""
loop:
	for {
		select {
		case <-ctx.Done():
			final, reason = StateAborted, ReasonInterrupted
			break loop
		case <-abort:
			final, reason = StateAborted, ReasonThreshold
			break loop
		case <-deadline.C:
			break loop
		case <-ticker.C:
			e.adjust(iterCtx, time.Since(start))
		}
	}

	e.finalVUs.Store(int32(e.pool.Live()))
	e.mu.Lock()
	e.stopReason = reason
	e.mu.Unlock()
	e.state.Store(int32(final))
	e.targetVUs.Store(0)
	close(e.ended)

	e.logger.Info().
		Str("state", final.String()).
		Str("reason", reason).
		Dur("elapsed", time.Since(start)).
		Msg("Ramp finished, retiring VUs")

	e.gracefulShutdown(iterCancel)

	e.mu.Lock()
	e.endTime = time.Now()
	e.mu.Unlock()

	return final, nil
}

func (e *RampingVUs) adjust(ctx context.Context, elapsed time.Duration) {
	target, stage := TargetVUsAt(e.config.StartVUs, e.config.Stages, elapsed)
	e.targetVUs.Store(int32(target))
	if prev := e.currentStage.Swap(int32(stage)); int(prev) != stage {
		e.logger.Debug().Int("stage", stage).Int("target", e.config.Stages[stage].Target).Msg("Entered stage")
	}
	e.pool.ScaleTo(ctx, target)
}

// gracefulShutdown retires every VU and waits for in-flight iterations.
func (e *RampingVUs) gracefulShutdown(cancel context.CancelFunc) {
	e.pool.RetireAll()

	if e.config.GracefulStop == 0 {
		e.pool.Wait(0)
		return
	}
	if e.pool.Wait(e.config.GracefulStop) {
		return
	}

	e.logger.Warn().
		Dur("graceful_stop", e.config.GracefulStop).
		Int("running", e.pool.Running()).
		Msg("Graceful stop expired, cancelling in-flight iterations")
	cancel()
	e.pool.Wait(e.config.GracefulStop)
}

// Ended is closed when the plan stops, before VUs are retired and drained.
func (e *RampingVUs) Ended() <-chan struct{} {
	return e.ended
}

// FinalVUs returns the live VU count at the moment the plan ended, before
// the VUs were retired.
func (e *RampingVUs) FinalVUs() int {
	return int(e.finalVUs.Load())
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	switch e.State() {
	case StateNotStarted:
		return 0.0
	case StateCompleted, StateAborted:
		return 1.0
	}

	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	progress := float64(time.Since(start)) / float64(e.config.TotalDuration())
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	start, end := e.startTime, e.endTime
	e.mu.RUnlock()

	var elapsed time.Duration
	switch {
	case !end.IsZero():
		elapsed = end.Sub(start)
	case !start.IsZero():
		elapsed = time.Since(start)
	}

	return &Stats{
		State:         e.State(),
		StartTime:     start,
		Elapsed:       elapsed,
		TotalDuration: e.config.TotalDuration(),
		ActiveVUs:     e.pool.Live(),
		TargetVUs:     int(e.targetVUs.Load()),
		MaxVUs:        e.pool.MaxLive(),
		Iterations:    e.pool.Iterations(),
		CurrentStage:  int(e.currentStage.Load()),
		TotalStages:   len(e.config.Stages),
	}
}
