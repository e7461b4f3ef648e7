package http

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhaseTimer_ParallelDials(t *testing.T) {
	start := time.Now()
	phases := newPhaseTimer(start)
	trace := phases.clientTrace()

	// Dual-stack dialing fires connect hooks from several goroutines at once.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trace.ConnectStart("tcp", "127.0.0.1:80")
			if i%2 == 0 {
				trace.ConnectDone("tcp", "[::1]:80", errors.New("connection refused"))
				return
			}
			trace.ConnectDone("tcp", "127.0.0.1:80", nil)
		}(i)
	}
	wg.Wait()
	trace.GotFirstResponseByte()

	timing := phases.snapshot()
	assert.Positive(t, timing.TCPConnectTime)
	assert.Less(t, timing.TCPConnectTime, time.Since(start)+time.Nanosecond)
	assert.GreaterOrEqual(t, timing.TimeToFirstByte, time.Duration(0))
}

func TestPhaseTimer_IgnoresFailedDials(t *testing.T) {
	phases := newPhaseTimer(time.Now())
	trace := phases.clientTrace()

	trace.ConnectStart("tcp", "[::1]:80")
	trace.ConnectDone("tcp", "[::1]:80", errors.New("refused"))
	trace.ConnectDone("tcp", "127.0.0.1:80", nil)

	assert.Positive(t, phases.snapshot().TCPConnectTime, "first successful dial is measured from the first attempt")

	unused := newPhaseTimer(time.Now())
	unused.clientTrace().ConnectDone("tcp", "127.0.0.1:80", nil)
	assert.Zero(t, unused.snapshot().TCPConnectTime, "no ConnectStart, no measurement")
}
