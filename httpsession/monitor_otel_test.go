package httpsession

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTypeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "given nil, then empty", err: nil, want: ""},
		{name: "given a cancellation, then cancelled", err: ErrCancelled, want: "cancelled"},
		{name: "given a context cancellation, then cancelled", err: context.Canceled, want: "cancelled"},
		{name: "given a deadline, then timeout", err: context.DeadlineExceeded, want: "timeout"},
		{
			name: "given a validation failure, then validation_error",
			err:  &ValidationError{Reason: ReasonUnacceptableStatusCode, StatusCode: 500},
			want: "validation_error",
		},
		{
			name: "given a serialization failure, then serialization_error",
			err:  &SerializationError{Reason: ReasonDecodeFailed, Err: errors.New("bad json")},
			want: "serialization_error",
		},
		{
			name: "given a dns failure, then dns_error",
			err:  fmt.Errorf("lookup: %w", &net.DNSError{Err: "no such host", Name: "backend.test"}),
			want: "dns_error",
		},
		{
			name: "given a certificate failure, then tls_error",
			err:  &tls.CertificateVerificationError{Err: errors.New("bad chain")},
			want: "tls_error",
		},
		{
			name: "given a pinning failure, then tls_error",
			err:  &TrustError{Host: "backend.test", Err: ErrNoTrustEvaluator},
			want: "tls_error",
		},
		{
			name: "given a refused connection, then connection_refused",
			err:  &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED},
			want: "connection_refused",
		},
		{
			name: "given a reset connection, then connection_reset",
			err:  &net.OpError{Op: "read", Err: syscall.ECONNRESET},
			want: "connection_reset",
		},
		{name: "given anything else, then other", err: errors.New("mystery"), want: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorTypeOf(tt.err))
		})
	}
}

func TestTracingMonitor_RecordsOneSpanPerRequest(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	mock := NewMockTransport().StubJSON(http.StatusOK, `{"ok": true}`)
	session := New(
		WithTransport(mock),
		WithEventMonitors(NewTracingMonitor(tp.Tracer("test"))),
	)
	defer session.Invalidate()

	req := session.Get("http://backend.test:8080/orders")
	req.ResponseData(func(DataResponse[[]byte]) {})
	awaitDone(t, req.Request)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]

	assert.Equal(t, "HTTP GET", span.Name)
	assert.Equal(t, trace.SpanKindClient, span.SpanKind)

	attrs := make(map[string]any)
	for _, kv := range span.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "GET", attrs["http.request.method"])
	assert.Equal(t, "http://backend.test:8080/orders", attrs["url.full"])
	assert.Equal(t, "backend.test", attrs["server.address"])
	assert.Equal(t, int64(8080), attrs["server.port"])
	assert.Equal(t, int64(http.StatusOK), attrs["http.response.status_code"])

	eventNames := make([]string, 0, len(span.Events))
	for _, ev := range span.Events {
		eventNames = append(eventNames, ev.Name)
	}
	assert.Contains(t, eventNames, "attempt.start")
	assert.Contains(t, eventNames, "attempt.end")
}

func TestTracingMonitor_FailureSetsErrorStatus(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	mock := NewMockTransport().StubResponse(http.StatusBadGateway, "bad upstream")
	session := New(
		WithTransport(mock),
		WithEventMonitors(NewTracingMonitor(tp.Tracer("test"))),
	)
	defer session.Invalidate()

	req := session.Get("http://backend.test/x").Validate()
	req.ResponseData(func(DataResponse[[]byte]) {})
	awaitDone(t, req.Request)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]

	assert.Equal(t, "Error", span.Status.Code.String())

	attrs := make(map[string]any)
	for _, kv := range span.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "validation_error", attrs["error.type"])
	require.NotEmpty(t, span.Events)
}

func TestTracingMonitor_RetriesAppearAsEvents(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	var calls int
	attempts := func(*http.Request) bool {
		calls++
		return calls == 1
	}
	mock := NewMockTransport().
		StubFunc(attempts, http.StatusServiceUnavailable, "down").
		StubResponse(http.StatusOK, "ok")

	session := New(
		WithTransport(mock),
		WithInterceptor(fastRetryPolicy(2)),
		WithEventMonitors(NewTracingMonitor(tp.Tracer("test"))),
	)
	defer session.Invalidate()

	req := session.Get("http://backend.test/flaky").Validate()
	req.ResponseData(func(DataResponse[[]byte]) {})
	awaitDone(t, req.Request)
	require.NoError(t, req.Err())

	spans := exporter.GetSpans()
	require.Len(t, spans, 1, "all attempts share one span")

	var starts, retries int
	for _, ev := range spans[0].Events {
		switch ev.Name {
		case "attempt.start":
			starts++
		case "retry":
			retries++
		}
	}
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, retries)
}

func TestMetricsMonitor_RecordsInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	monitor, err := NewMetricsMonitor(mp.Meter("test"))
	require.NoError(t, err)

	mock := NewMockTransport().StubJSON(http.StatusOK, `{"ok": true}`)
	session := New(WithTransport(mock), WithEventMonitors(monitor))
	defer session.Invalidate()

	req := session.Get("http://backend.test/orders")
	req.ResponseData(func(DataResponse[[]byte]) {})
	awaitDone(t, req.Request)

	failing := session.Get("http://backend.test/orders")
	failing.ValidateWith(ValidateStatusCodes(http.StatusNoContent))
	failing.ResponseData(func(DataResponse[[]byte]) {})
	awaitDone(t, failing.Request)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	names := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = m
		}
	}

	require.Contains(t, names, "http.client.request.duration")
	require.Contains(t, names, "http.client.response.body.size")
	require.Contains(t, names, "http.client.active_requests")
	require.Contains(t, names, "http.client.validation.failures")
	require.Contains(t, names, "http.client.request.error")

	duration, ok := names["http.client.request.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range duration.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count, "one duration sample per attempt")

	active, ok := names["http.client.active_requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var inFlight int64
	for _, dp := range active.DataPoints {
		inFlight += dp.Value
	}
	assert.Zero(t, inFlight, "every started attempt also completed")
}

func TestMetricsMonitor_NilMetricsSafety(t *testing.T) {
	var sm *sessionMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		sm.addActive(ctx, 1)
		sm.addRetry(ctx, nil, 1)
		sm.addValidationFailure(ctx, nil)
		sm.addError(ctx, nil, "other")
		sm.recordTimings(ctx, &Metrics{Total: time.Second}, nil)
	})
}
