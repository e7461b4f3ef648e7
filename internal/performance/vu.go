package performance

import (
	"context"
	"sync/atomic"
	"time"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU has been created but not started.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is looping over iterations.
	VUStateRunning
	// VUStateStopping indicates the VU finishes its current iteration and exits.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser runs iterations back to back until it is asked to stop.
//
// Stop requests are honoured only between iterations, so an in-flight
// request always completes (or is cancelled through its context).
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	runner Runner

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	stopCh chan struct{}
	doneCh chan struct{}

	iterations atomic.Int64
}

// NewVirtualUser creates an idle VU driven by runner.
func NewVirtualUser(id int, runner Runner) *VirtualUser {
	return &VirtualUser{
		ID:     id,
		runner: runner,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIterations returns the number of completed iterations.
func (vu *VirtualUser) GetIterations() int64 {
	return vu.iterations.Load()
}

// Run loops until RequestStop is called or ctx is done. Every completed
// iteration is also added to total when it is non-nil.
func (vu *VirtualUser) Run(ctx context.Context, total *atomic.Int64) {
	defer vu.markStopped()

	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-vu.stopCh:
			return
		default:
		}

		vu.runner.Run(ctx, vu.ID)
		vu.iterations.Add(1)
		if total != nil {
			total.Add(1)
		}
	}
}

// RequestStop asks the VU to exit at its next iteration boundary.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	select {
	case <-vu.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done is closed once the VU goroutine has exited.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	select {
	case <-vu.doneCh:
	default:
		close(vu.doneCh)
	}
}
