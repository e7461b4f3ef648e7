// Package exporter publishes live run metrics in Prometheus format.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

const namespace = "stampede"

// Exporter is a metrics.Observer that mirrors every sample into its own
// Prometheus registry.
type Exporter struct {
	registry *prometheus.Registry

	reqs     *prometheus.CounterVec
	failed   prometheus.Counter
	checks   *prometheus.CounterVec
	duration prometheus.Histogram
	received prometheus.Counter
	vus      prometheus.Gauge
	vusMax   prometheus.Gauge

	mu       sync.Mutex
	maxVUs   int
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

var _ metrics.Observer = (*Exporter)(nil)

// New creates an exporter with a fresh registry.
func New(logger zerolog.Logger) *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		reqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_reqs_total",
			Help:      "Requests sent, by response status (\"error\" when none was received).",
		}, []string{"status"}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_req_failed_total",
			Help:      "Iterations whose check did not pass.",
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Check outcomes by check name and result.",
		}, []string{"check", "result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_req_duration_seconds",
			Help:      "Request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_received_bytes_total",
			Help:      "Response body bytes received.",
		}),
		vus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vus",
			Help:      "Live virtual users.",
		}),
		vusMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vus_max",
			Help:      "Highest number of live virtual users so far.",
		}),
		logger: logger.With().Str("component", "exporter").Logger(),
	}

	e.registry.MustRegister(e.reqs, e.failed, e.checks, e.duration, e.received, e.vus, e.vusMax)
	return e
}

// ObserveSample implements metrics.Observer.
func (e *Exporter) ObserveSample(s metrics.Sample) {
	status := s.Tags[performance.TagStatus]
	if status == "" {
		status = "error"
	}
	e.reqs.WithLabelValues(status).Inc()
	e.duration.Observe(s.Duration.Seconds())
	e.received.Add(float64(s.Bytes))

	result := "pass"
	if !s.Success {
		e.failed.Inc()
		result = "fail"
	}
	if check := s.Tags[performance.TagCheck]; check != "" {
		e.checks.WithLabelValues(check, result).Inc()
	}
}

// ObserveVUs implements metrics.Observer.
func (e *Exporter) ObserveVUs(n int) {
	e.vus.Set(float64(n))

	e.mu.Lock()
	defer e.mu.Unlock()
	if n > e.maxVUs {
		e.maxVUs = n
		e.vusMax.Set(float64(n))
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Start listens on addr and serves /metrics in the background.
func (e *Exporter) Start(addr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server != nil {
		return errors.New("exporter already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	e.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	e.listener = ln

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	e.logger.Info().Str("addr", ln.Addr().String()).Msg("Serving Prometheus metrics")
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (e *Exporter) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return ""
	}
	return e.listener.Addr().String()
}

// Shutdown stops the metrics server if it was started.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	srv := e.server
	e.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
