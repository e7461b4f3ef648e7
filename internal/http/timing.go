package http

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"
)

// TimingInfo breaks a request's latency into connection phases.
type TimingInfo struct {
	DNSLookupTime    time.Duration
	TCPConnectTime   time.Duration
	TLSHandshakeTime time.Duration
	TimeToFirstByte  time.Duration
	TotalTime        time.Duration
}

// phaseTimer fills a TimingInfo from httptrace callbacks. Dial callbacks can
// run on parallel goroutines (happy eyeballs), so every field is guarded.
// Only the first connect attempt and the first successful dial are kept.
type phaseTimer struct {
	mu           sync.Mutex
	timing       TimingInfo
	dnsStart     time.Time
	connectStart time.Time
	connected    bool
	tlsStart     time.Time
	lastPhaseEnd time.Time
}

func newPhaseTimer(start time.Time) *phaseTimer {
	return &phaseTimer{lastPhaseEnd: start}
}

// clientTrace returns hooks that record into t. Phases that do not happen
// (reused connections) stay zero.
func (t *phaseTimer) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			t.mu.Lock()
			t.dnsStart = time.Now()
			t.mu.Unlock()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.dnsStart.IsZero() {
				return
			}
			now := time.Now()
			t.timing.DNSLookupTime = now.Sub(t.dnsStart)
			t.lastPhaseEnd = now
		},
		ConnectStart: func(network, addr string) {
			t.mu.Lock()
			if t.connectStart.IsZero() {
				t.connectStart = time.Now()
			}
			t.mu.Unlock()
		},
		ConnectDone: func(network, addr string, err error) {
			t.mu.Lock()
			defer t.mu.Unlock()
			if err != nil || t.connected || t.connectStart.IsZero() {
				return
			}
			now := time.Now()
			t.connected = true
			t.timing.TCPConnectTime = now.Sub(t.connectStart)
			t.lastPhaseEnd = now
		},
		TLSHandshakeStart: func() {
			t.mu.Lock()
			t.tlsStart = time.Now()
			t.mu.Unlock()
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			t.mu.Lock()
			defer t.mu.Unlock()
			if err != nil || t.tlsStart.IsZero() {
				return
			}
			now := time.Now()
			t.timing.TLSHandshakeTime = now.Sub(t.tlsStart)
			t.lastPhaseEnd = now
		},
		GotFirstResponseByte: func() {
			t.mu.Lock()
			t.timing.TimeToFirstByte = time.Since(t.lastPhaseEnd)
			t.mu.Unlock()
		},
	}
}

// snapshot returns the phases recorded so far.
func (t *phaseTimer) snapshot() TimingInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timing
}
