package exporter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

func sample(status string, success bool, d time.Duration) metrics.Sample {
	tags := map[string]string{performance.TagCheck: performance.DefaultCheckName}
	if status != "" {
		tags[performance.TagStatus] = status
	}
	return metrics.Sample{Timestamp: time.Now(), Duration: d, Success: success, Bytes: 10, Tags: tags}
}

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func histogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, h.Write(&out))
	return out.Histogram.GetSampleCount()
}

func TestExporter_ObserveSample(t *testing.T) {
	e := New(zerolog.Nop())

	e.ObserveSample(sample("200", true, 10*time.Millisecond))
	e.ObserveSample(sample("200", true, 20*time.Millisecond))
	e.ObserveSample(sample("500", false, 5*time.Millisecond))
	e.ObserveSample(sample("", false, time.Second))

	assert.Equal(t, 2.0, value(t, e.reqs.WithLabelValues("200")))
	assert.Equal(t, 1.0, value(t, e.reqs.WithLabelValues("500")))
	assert.Equal(t, 1.0, value(t, e.reqs.WithLabelValues("error")))
	assert.Equal(t, 2.0, value(t, e.failed))
	assert.Equal(t, 2.0, value(t, e.checks.WithLabelValues(performance.DefaultCheckName, "pass")))
	assert.Equal(t, 2.0, value(t, e.checks.WithLabelValues(performance.DefaultCheckName, "fail")))
	assert.Equal(t, 40.0, value(t, e.received))
	assert.Equal(t, uint64(4), histogramCount(t, e.duration))
}

func TestExporter_ObserveVUs(t *testing.T) {
	e := New(zerolog.Nop())

	e.ObserveVUs(3)
	e.ObserveVUs(10)
	e.ObserveVUs(4)

	assert.Equal(t, 4.0, value(t, e.vus))
	assert.Equal(t, 10.0, value(t, e.vusMax))
}

func TestExporter_WiredIntoMetricsEngine(t *testing.T) {
	e := New(zerolog.Nop())
	m := metrics.NewEngine(e)
	defer m.Stop()

	m.Add(sample("200", true, time.Millisecond))
	m.SetActiveVUs(2)

	assert.Equal(t, 1.0, value(t, e.reqs.WithLabelValues("200")))
	assert.Equal(t, 2.0, value(t, e.vus))
}

func TestExporter_Handler(t *testing.T) {
	e := New(zerolog.Nop())
	e.ObserveSample(sample("200", true, 10*time.Millisecond))

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, `stampede_http_reqs_total{status="200"} 1`)
	assert.Contains(t, body, "stampede_http_req_duration_seconds_bucket")
}

func TestExporter_StartAndShutdown(t *testing.T) {
	e := New(zerolog.Nop())
	assert.Empty(t, e.Addr())
	require.NoError(t, e.Start("127.0.0.1:0"))
	assert.Error(t, e.Start("127.0.0.1:0"), "second start is rejected")

	resp, err := http.Get("http://" + e.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "stampede_vus")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, e.Shutdown(ctx))
}

func TestExporter_ShutdownWithoutStart(t *testing.T) {
	assert.NoError(t, New(zerolog.Nop()).Shutdown(context.Background()))
}
