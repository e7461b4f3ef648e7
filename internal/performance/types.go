// Package performance runs iterations against a target on behalf of
// virtual users and manages the pool those users live in.
package performance

import (
	"context"
	"net/http"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// Response is what a Sender observed for one request.
type Response struct {
	Status   int
	Duration time.Duration
	Bytes    int64
}

// Sender delivers one payload to url. Implementations must be safe for
// concurrent use and must not modify headers.
type Sender interface {
	Send(ctx context.Context, url string, payload []byte, headers http.Header) (Response, error)
}

// IDGenerator produces a fresh identifier for every call.
type IDGenerator interface {
	NewID() string
}

// CheckFunc decides whether a response counts as a success.
type CheckFunc func(Response) bool

// StatusIs returns a check that passes only for the given status code.
func StatusIs(code int) CheckFunc {
	return func(r Response) bool {
		return r.Status == code
	}
}

// SampleSink accepts iteration samples. metrics.Engine is the usual sink.
type SampleSink interface {
	Add(s metrics.Sample)
}

// VUGauge receives the live VU count whenever the pool changes size.
type VUGauge interface {
	SetActiveVUs(n int)
}

// Runner executes a single iteration for a VU.
type Runner interface {
	Run(ctx context.Context, vuID int) metrics.Sample
}
