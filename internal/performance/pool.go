package performance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// VUPool owns the set of live virtual users for a run.
//
// It provides:
// - spawning VUs onto their own goroutines
// - retiring the most recently spawned VUs first
// - bounded waiting for in-flight iterations at shutdown
//
// The pool is the only owner of the VU set; executors drive it through
// ScaleTo and RetireAll.
type VUPool struct {
	runner Runner
	gauge  VUGauge
	logger zerolog.Logger

	// VUs in spawn order, including ones that are stopping
	vus   []*VirtualUser
	vusMu sync.Mutex

	nextVUID   atomic.Int32
	maxLive    atomic.Int32
	iterations atomic.Int64

	wg sync.WaitGroup
}

// NewVUPool creates an empty pool whose VUs execute runner. gauge may be nil.
func NewVUPool(runner Runner, gauge VUGauge, logger zerolog.Logger) *VUPool {
	return &VUPool{
		runner: runner,
		gauge:  gauge,
		logger: logger,
	}
}

// Spawn starts one new VU on its own goroutine. ctx bounds every iteration
// the VU runs.
func (p *VUPool) Spawn(ctx context.Context) *VirtualUser {
	vu := NewVirtualUser(int(p.nextVUID.Add(1)), p.runner)

	p.vusMu.Lock()
	p.vus = append(p.vus, vu)
	p.vusMu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		vu.Run(ctx, &p.iterations)
	}()

	return vu
}

// live returns VUs that have not been asked to stop. Caller holds vusMu.
func (p *VUPool) live() []*VirtualUser {
	out := make([]*VirtualUser, 0, len(p.vus))
	for _, vu := range p.vus {
		s := vu.GetState()
		if s == VUStateIdle || s == VUStateRunning {
			out = append(out, vu)
		}
	}
	return out
}

// prune drops stopped VUs from the set. Caller holds vusMu.
func (p *VUPool) prune() {
	kept := p.vus[:0]
	for _, vu := range p.vus {
		if vu.GetState() != VUStateStopped {
			kept = append(kept, vu)
		}
	}
	for i := len(kept); i < len(p.vus); i++ {
		p.vus[i] = nil
	}
	p.vus = kept
}

// ScaleTo spawns or retires VUs until target are live and returns the
// resulting live count. Retired VUs finish their current iteration first.
func (p *VUPool) ScaleTo(ctx context.Context, target int) int {
	if target < 0 {
		target = 0
	}

	p.vusMu.Lock()
	p.prune()
	live := p.live()
	current := len(live)
	p.vusMu.Unlock()

	switch {
	case target > current:
		for i := current; i < target; i++ {
			p.Spawn(ctx)
		}
		p.logger.Debug().Int("from", current).Int("to", target).Msg("Scaling up VUs")
	case target < current:
		// Newest first
		for i := len(live) - 1; i >= target; i-- {
			live[i].RequestStop()
		}
		p.logger.Debug().Int("from", current).Int("to", target).Msg("Scaling down VUs")
	}

	p.publish(target)
	return target
}

// RetireAll asks every VU to stop at its next iteration boundary.
func (p *VUPool) RetireAll() {
	p.vusMu.Lock()
	for _, vu := range p.vus {
		vu.RequestStop()
	}
	p.vusMu.Unlock()
	p.publish(0)
}

func (p *VUPool) publish(live int) {
	for {
		cur := p.maxLive.Load()
		if int32(live) <= cur || p.maxLive.CompareAndSwap(cur, int32(live)) {
			break
		}
	}
	if p.gauge != nil {
		p.gauge.SetActiveVUs(live)
	}
}

// Live returns the number of VUs that have not been asked to stop.
func (p *VUPool) Live() int {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()
	return len(p.live())
}

// Running returns the number of VU goroutines that have not exited yet,
// including ones finishing their last iteration.
func (p *VUPool) Running() int {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()
	n := 0
	for _, vu := range p.vus {
		if vu.GetState() != VUStateStopped {
			n++
		}
	}
	return n
}

// MaxLive returns the highest live count the pool has reached.
func (p *VUPool) MaxLive() int {
	return int(p.maxLive.Load())
}

// Iterations returns the number of iterations completed by all VUs.
func (p *VUPool) Iterations() int64 {
	return p.iterations.Load()
}

// Wait blocks until every VU goroutine has exited or timeout elapses.
// It returns false on timeout. A timeout <= 0 waits without limit.
func (p *VUPool) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		p.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
