// Package executor drives the VU pool through a staged ramp.
package executor

import (
	"fmt"
	"math"
	"time"
)

// State is the lifecycle state of an executor run.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stage is one segment of the ramp plan.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`
}

// DefaultTickInterval is how often the controller re-evaluates the target.
const DefaultTickInterval = 100 * time.Millisecond

// Config contains configuration for a ramping run.
type Config struct {
	// StartVUs is the VU count at t=0
	StartVUs int `json:"startVUs" yaml:"startVUs"`

	Stages []Stage `json:"stages" yaml:"stages"`

	// GracefulStop bounds the wait for in-flight iterations once the plan
	// ends; their context is cancelled when it expires. Zero waits for them
	// to finish on their own.
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// TickInterval overrides the controller period (mainly for tests)
	TickInterval time.Duration `json:"-" yaml:"-"`
}

// Validate validates the ramp configuration.
func (c *Config) Validate() error {
	if c.StartVUs < 0 {
		return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
	}
	if len(c.Stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	for i, s := range c.Stages {
		if s.Duration < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be >= 0"}
		}
		if s.Target < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be >= 0"}
		}
	}
	if c.TotalDuration() <= 0 {
		return &ValidationError{Field: "stages", Message: "total stage duration must be > 0"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	return nil
}

// TotalDuration returns the sum of all stage durations.
func (c *Config) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range c.Stages {
		total += stage.Duration
	}
	return total
}

// TargetVUsAt returns the interpolated VU target at elapsed and the index
// of the stage containing it. Past the end of the plan the last stage's
// target applies.
func TargetVUsAt(startVUs int, stages []Stage, elapsed time.Duration) (int, int) {
	if len(stages) == 0 {
		return startVUs, 0
	}
	if elapsed < 0 {
		elapsed = 0
	}

	var stageStart time.Duration
	prevTarget := startVUs

	for i, stage := range stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(math.Round(target)), i
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return stages[len(stages)-1].Target, len(stages) - 1
}

// Stats contains real-time executor statistics.
type Stats struct {
	State         State         `json:"state"`
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`
	MaxVUs    int `json:"maxVUs"`

	Iterations int64 `json:"iterations"`

	CurrentStage int `json:"currentStage"`
	TotalStages  int `json:"totalStages"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
