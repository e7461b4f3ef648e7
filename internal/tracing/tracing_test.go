package tracing_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/wesleyorama2/stampede/internal/tracing"
)

func setupTestTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter, tp.Tracer("test")
}

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	p, err := tracing.Init(context.Background(), tracing.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	assert.False(t, p.Enabled())
	assert.False(t, p.ShouldPropagate())

	_, span := p.Tracer().Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestInit_Protocols(t *testing.T) {
	for _, tc := range []struct {
		protocol string
		endpoint string
	}{
		{"grpc", "localhost:4317"},
		{"http", "localhost:4318"},
	} {
		t.Run(tc.protocol, func(t *testing.T) {
			p, err := tracing.Init(context.Background(), tracing.Config{
				Endpoint:    tc.endpoint,
				Protocol:    tc.protocol,
				ServiceName: "test-service",
				SampleRate:  1.0,
				Insecure:    true,
			})
			require.NoError(t, err)
			t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

			assert.True(t, p.Enabled())
			assert.True(t, p.ShouldPropagate())
		})
	}
}

func TestInit_Errors(t *testing.T) {
	_, err := tracing.Init(context.Background(), tracing.Config{Endpoint: "localhost:4317", Protocol: "carrier-pigeon", SampleRate: 1})
	assert.Error(t, err)

	_, err = tracing.Init(context.Background(), tracing.Config{Endpoint: "localhost:4317", SampleRate: 1.5})
	assert.Error(t, err)
}

func TestStartRequestSpan(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	ctx, span := tracing.StartRequestSpan(context.Background(), tracer, "POST", "http://localhost:8080/employee")
	headers := http.Header{}
	tracing.InjectHTTPHeaders(ctx, headers)
	tracing.EndSpan(span, nil, attribute.Int("http.response.status_code", 200))

	assert.NotEmpty(t, headers.Get("traceparent"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP POST", spans[0].Name)
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
}

func TestEndSpan_RecordsError(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	_, span := tracing.StartRequestSpan(context.Background(), tracer, "POST", "http://localhost/employee")
	tracing.EndSpan(span, errors.New("connection refused"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "connection refused", spans[0].Status.Description)
	assert.Len(t, spans[0].Events, 1)
}
