// Package http implements the request sender used by virtual users.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/tracing"
)

// Client sends iteration payloads over HTTP. It is safe for concurrent use
// and shares one connection pool across all VUs.
type Client struct {
	httpClient   *http.Client
	transport    *http.Transport
	method       string
	headers      http.Header
	limiter      *rate.Limiter
	retries      int
	retryBackoff time.Duration
	tracer       trace.Tracer
	propagate    bool
	logger       zerolog.Logger
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// NewClient creates a new HTTP client with the given options
func NewClient(options ...ClientOption) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	client := &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		transport:    transport,
		method:       http.MethodPost,
		headers:      make(http.Header),
		retryBackoff: 100 * time.Millisecond,
		logger:       zerolog.Nop(),
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHeader adds a header sent on every request unless the caller overrides it
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithMethod sets the HTTP method (default POST)
func WithMethod(method string) ClientOption {
	return func(c *Client) {
		if method != "" {
			c.method = method
		}
	}
}

// WithMaxRPS caps the request rate across all callers. rps <= 0 means unlimited.
func WithMaxRPS(rps float64) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRetries retries transport errors and 5xx responses up to n times.
func WithRetries(n int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) {
		if skip {
			c.transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
	}
}

// WithTracing starts a client span per request and injects W3C headers
// when the provider propagates.
func WithTracing(p *tracing.Provider) ClientOption {
	return func(c *Client) {
		if p != nil && p.Enabled() {
			c.tracer = p.Tracer()
		}
		c.propagate = p.ShouldPropagate()
	}
}

// WithTracer uses tracer directly. Mainly useful in tests.
func WithTracer(tracer trace.Tracer, propagate bool) ClientOption {
	return func(c *Client) {
		c.tracer = tracer
		c.propagate = propagate
	}
}

// WithLogger sets the logger for send failures
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With().Str("component", "http").Logger()
	}
}

var _ performance.Sender = (*Client)(nil)

// Send posts payload to url and drains the response. Duration covers the
// final attempt from request start to the end of the body.
func (c *Client) Send(ctx context.Context, url string, payload []byte, headers http.Header) (performance.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return performance.Response{}, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var (
		resp performance.Response
		err  error
	)
	for attempt := 0; ; attempt++ {
		resp, err = c.sendOnce(ctx, url, payload, headers)
		if attempt >= c.retries || !retryable(resp, err) || ctx.Err() != nil {
			break
		}
		c.logger.Debug().Err(err).Int("status", resp.Status).Int("attempt", attempt+1).Msg("Retrying request")
		select {
		case <-ctx.Done():
			return resp, err
		case <-time.After(c.retryBackoff * time.Duration(attempt+1)):
		}
	}

	if err != nil {
		c.logger.Debug().Err(err).Str("url", url).Msg("Request failed")
	}
	return resp, err
}

func retryable(resp performance.Response, err error) bool {
	return err != nil || resp.Status >= 500
}

func (c *Client) sendOnce(ctx context.Context, url string, payload []byte, headers http.Header) (performance.Response, error) {
	var span trace.Span
	if c.tracer != nil {
		ctx, span = tracing.StartRequestSpan(ctx, c.tracer, c.method, url)
	}

	start := time.Now()
	phases := newPhaseTimer(start)
	ctx = httptrace.WithClientTrace(ctx, phases.clientTrace())

	req, err := http.NewRequestWithContext(ctx, c.method, url, bytes.NewReader(payload))
	if err != nil {
		c.endSpan(span, err, 0, phases.snapshot())
		return performance.Response{}, fmt.Errorf("build request: %w", err)
	}
	for key, values := range c.headers {
		req.Header[key] = values
	}
	for key, values := range headers {
		req.Header[key] = values
	}
	if c.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		timing := phases.snapshot()
		timing.TotalTime = time.Since(start)
		c.endSpan(span, err, 0, timing)
		return performance.Response{Duration: timing.TotalTime}, err
	}

	n, readErr := io.Copy(io.Discard, httpResp.Body)
	httpResp.Body.Close()
	timing := phases.snapshot()
	timing.TotalTime = time.Since(start)

	resp := performance.Response{
		Status:   httpResp.StatusCode,
		Duration: timing.TotalTime,
		Bytes:    n,
	}
	if readErr != nil {
		readErr = fmt.Errorf("read response body: %w", readErr)
	}
	c.endSpan(span, readErr, resp.Status, timing)
	return resp, readErr
}

func (c *Client) endSpan(span trace.Span, err error, status int, timing TimingInfo) {
	if span == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.Float64("stampede.ttfb_ms", float64(timing.TimeToFirstByte)/float64(time.Millisecond)),
		attribute.Float64("stampede.total_ms", float64(timing.TotalTime)/float64(time.Millisecond)),
	}
	if status != 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", status))
	}
	if err == nil && status >= 500 {
		err = fmt.Errorf("server responded %d", status)
	}
	tracing.EndSpan(span, err, attrs...)
}

// CloseIdleConnections releases pooled connections at the end of a run.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
