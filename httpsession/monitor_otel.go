package httpsession

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Error type labels recorded on spans and error metrics.
const (
	errorTypeTimeout           = "timeout"
	errorTypeCancelled         = "cancelled"
	errorTypeDNS               = "dns_error"
	errorTypeTLS               = "tls_error"
	errorTypeConnectionRefused = "connection_refused"
	errorTypeConnectionReset   = "connection_reset"
	errorTypeValidation        = "validation_error"
	errorTypeSerialization     = "serialization_error"
	errorTypeOther             = "other"
)

// errorTypeOf maps an error to its metric label. Checks run from most to
// least specific; the string fallback catches wrapped errors from libraries
// that defeat the type checks.
func errorTypeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return errorTypeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return errorTypeTimeout
	case errors.Is(err, ErrValidationFailed):
		return errorTypeValidation
	case errors.Is(err, ErrSerializationFailed):
		return errorTypeSerialization
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errorTypeTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errorTypeDNS
	}
	var certErr *tls.CertificateVerificationError
	var trustErr *TrustError
	if errors.As(err, &certErr) || errors.As(err, &trustErr) {
		return errorTypeTLS
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return errorTypeConnectionRefused
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return errorTypeConnectionReset
	}
	return errorTypeOther
}

// NewTracingMonitor returns an EventMonitor that opens one client span per
// request, spanning every attempt from creation to the terminal state.
// Attempt boundaries, retries, and redirects appear as span events.
//
// Example:
//
//	tracer := otel.Tracer("github.com/meridian-labs/courier-go/httpsession")
//	session := httpsession.New(httpsession.WithEventMonitors(
//	    httpsession.NewTracingMonitor(tracer),
//	))
func NewTracingMonitor(tracer trace.Tracer) *EventMonitor {
	tm := &tracingMonitor{
		tracer: tracer,
		spans:  make(map[uuid.UUID]trace.Span),
	}
	return &EventMonitor{
		RequestDidCreate:       tm.created,
		RequestDidCreateTask:   tm.taskCreated,
		RequestDidCompleteTask: tm.taskCompleted,
		RequestWillRedirect:    tm.willRedirect,
		RequestIsRetrying:      tm.retrying,
		RequestDidFinish:       tm.finished,
	}
}

type tracingMonitor struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[uuid.UUID]trace.Span
}

func (tm *tracingMonitor) created(req *Request) {
	// The wire request does not exist yet; the span is renamed once the
	// first task is created.
	_, span := tm.tracer.Start(req.Context(), "HTTP request",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	tm.mu.Lock()
	tm.spans[req.ID()] = span
	tm.mu.Unlock()
}

func (tm *tracingMonitor) span(req *Request) trace.Span {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.spans[req.ID()]
}

func (tm *tracingMonitor) taskCreated(req *Request, taskID int64) {
	span := tm.span(req)
	if span == nil {
		return
	}
	wire := req.LastRequest()
	if wire == nil {
		return
	}
	span.SetName("HTTP " + wire.Method)
	span.SetAttributes(wireAttributes(wire)...)
	span.AddEvent("attempt.start", trace.WithAttributes(
		attribute.Int64("task.id", taskID),
		attribute.Int("retry.count", req.RetryCount()),
	))
}

func (tm *tracingMonitor) taskCompleted(req *Request, resp *http.Response, err error) {
	span := tm.span(req)
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 2)
	if resp != nil {
		attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.type", errorTypeOf(err)))
	}
	span.AddEvent("attempt.end", trace.WithAttributes(attrs...))
}

func (tm *tracingMonitor) willRedirect(req *Request, resp *http.Response, proposed *http.Request) {
	span := tm.span(req)
	if span == nil {
		return
	}
	span.AddEvent("redirect", trace.WithAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.String("url.full", proposed.URL.String()),
	))
}

func (tm *tracingMonitor) retrying(req *Request, retryCount int) {
	span := tm.span(req)
	if span == nil {
		return
	}
	span.AddEvent("retry", trace.WithAttributes(
		attribute.Int("retry.count", retryCount),
	))
}

func (tm *tracingMonitor) finished(req *Request) {
	tm.mu.Lock()
	span := tm.spans[req.ID()]
	delete(tm.spans, req.ID())
	tm.mu.Unlock()
	if span == nil {
		return
	}

	if resp := req.Response(); resp != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		if resp.StatusCode >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		}
	}
	if err := req.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.type", errorTypeOf(err)))
	}
	span.End()
}

// wireAttributes returns semconv span attributes for a wire request.
func wireAttributes(req *http.Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 6)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))
	if req.URL != nil {
		attrs = append(attrs, attribute.String("url.full", req.URL.String()))
		attrs = append(attrs, attribute.String("url.scheme", req.URL.Scheme))
		if host := req.URL.Hostname(); host != "" {
			attrs = append(attrs, attribute.String("server.address", host))
		}
		attrs = append(attrs, attribute.Int("server.port", urlPort(req.URL.Scheme, req.URL.Port())))
	}
	if req.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.request.body.size", req.ContentLength))
	}
	return attrs
}

func urlPort(scheme, port string) int {
	if port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			return p
		}
	}
	if scheme == "https" {
		return 443
	}
	return 80
}

// NewMetricsMonitor returns an EventMonitor that records request metrics
// through the given meter: duration, phase timings, body sizes, in-flight
// attempts, retries, validation failures, and errors by type. Instrument
// names follow OTel HTTP client semconv.
func NewMetricsMonitor(meter metric.Meter) (*EventMonitor, error) {
	sm, err := newSessionMetrics(meter)
	if err != nil {
		return nil, err
	}
	return &EventMonitor{
		RequestDidCreateTask: func(req *Request, _ int64) {
			sm.addActive(req.Context(), 1)
		},
		RequestDidCompleteTask: func(req *Request, _ *http.Response, _ error) {
			sm.addActive(req.Context(), -1)
		},
		RequestDidValidate: func(req *Request, _ *http.Response, err error) {
			if err != nil {
				sm.addValidationFailure(req.Context(), requestAttrs(req))
			}
		},
		RequestIsRetrying: func(req *Request, retryCount int) {
			sm.addRetry(req.Context(), requestAttrs(req), retryCount)
		},
		RequestDidCollectMetrics: func(req *Request, m *Metrics) {
			sm.recordTimings(req.Context(), m, requestAttrs(req))
		},
		RequestDidFinish: func(req *Request) {
			if err := req.Err(); err != nil {
				sm.addError(req.Context(), requestAttrs(req), errorTypeOf(err))
			}
		},
	}, nil
}

// sessionMetrics holds the metric instruments. All record methods tolerate a
// nil receiver and nil instruments.
type sessionMetrics struct {
	requestDuration  metric.Float64Histogram
	dnsDuration      metric.Float64Histogram
	tlsDuration      metric.Float64Histogram
	ttfb             metric.Float64Histogram
	requestBodySize  metric.Int64Histogram
	responseBodySize metric.Int64Histogram
	activeRequests   metric.Int64UpDownCounter
	retryAttempts    metric.Int64Counter
	validationFails  metric.Int64Counter
	requestErrors    metric.Int64Counter
}

func newSessionMetrics(meter metric.Meter) (*sessionMetrics, error) {
	sm := &sessionMetrics{}
	var err error

	sm.requestDuration, err = meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	sm.dnsDuration, err = meter.Float64Histogram(
		"http.client.dns.duration",
		metric.WithDescription("DNS lookup duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
		),
	)
	if err != nil {
		return nil, err
	}

	sm.tlsDuration, err = meter.Float64Histogram(
		"http.client.tls.duration",
		metric.WithDescription("TLS handshake duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
		),
	)
	if err != nil {
		return nil, err
	}

	sm.ttfb, err = meter.Float64Histogram(
		"http.client.ttfb",
		metric.WithDescription("Time to first response byte in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5,
		),
	)
	if err != nil {
		return nil, err
	}

	sm.requestBodySize, err = meter.Int64Histogram(
		"http.client.request.body.size",
		metric.WithDescription("Size of HTTP request bodies in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(
			0, 100, 1024, 10*1024, 100*1024, 1024*1024, 10*1024*1024,
		),
	)
	if err != nil {
		return nil, err
	}

	sm.responseBodySize, err = meter.Int64Histogram(
		"http.client.response.body.size",
		metric.WithDescription("Size of HTTP response bodies in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(
			0, 100, 1024, 10*1024, 100*1024, 1024*1024, 10*1024*1024,
		),
	)
	if err != nil {
		return nil, err
	}

	sm.activeRequests, err = meter.Int64UpDownCounter(
		"http.client.active_requests",
		metric.WithDescription("Number of in-flight HTTP attempts"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	sm.retryAttempts, err = meter.Int64Counter(
		"http.client.retry.attempts",
		metric.WithDescription("Number of HTTP retry attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	sm.validationFails, err = meter.Int64Counter(
		"http.client.validation.failures",
		metric.WithDescription("Number of response validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	sm.requestErrors, err = meter.Int64Counter(
		"http.client.request.error",
		metric.WithDescription("Number of HTTP requests finishing with an error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return sm, nil
}

func (sm *sessionMetrics) addActive(ctx context.Context, delta int64) {
	if sm == nil || sm.activeRequests == nil {
		return
	}
	sm.activeRequests.Add(ctx, delta)
}

func (sm *sessionMetrics) addRetry(ctx context.Context, attrs []attribute.KeyValue, attempt int) {
	if sm == nil || sm.retryAttempts == nil {
		return
	}
	allAttrs := append(attrs, attribute.Int("retry.attempt", attempt))
	sm.retryAttempts.Add(ctx, 1, metric.WithAttributes(allAttrs...))
}

func (sm *sessionMetrics) addValidationFailure(ctx context.Context, attrs []attribute.KeyValue) {
	if sm == nil || sm.validationFails == nil {
		return
	}
	sm.validationFails.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (sm *sessionMetrics) addError(ctx context.Context, attrs []attribute.KeyValue, errorType string) {
	if sm == nil || sm.requestErrors == nil {
		return
	}
	allAttrs := append(attrs, attribute.String("error.type", errorType))
	sm.requestErrors.Add(ctx, 1, metric.WithAttributes(allAttrs...))
}

func (sm *sessionMetrics) recordTimings(ctx context.Context, m *Metrics, attrs []attribute.KeyValue) {
	if sm == nil || m == nil {
		return
	}
	opt := metric.WithAttributes(attrs...)
	if sm.requestDuration != nil {
		sm.requestDuration.Record(ctx, m.Total.Seconds(), opt)
	}
	if sm.dnsDuration != nil && m.DNSLookup > 0 {
		sm.dnsDuration.Record(ctx, m.DNSLookup.Seconds(), opt)
	}
	if sm.tlsDuration != nil && m.TLSHandshake > 0 {
		sm.tlsDuration.Record(ctx, m.TLSHandshake.Seconds(), opt)
	}
	if sm.ttfb != nil && m.TimeToFirstByte > 0 {
		sm.ttfb.Record(ctx, m.TimeToFirstByte.Seconds(), opt)
	}
	if sm.requestBodySize != nil && m.BytesSent > 0 {
		sm.requestBodySize.Record(ctx, m.BytesSent, opt)
	}
	if sm.responseBodySize != nil && m.BytesReceived > 0 {
		sm.responseBodySize.Record(ctx, m.BytesReceived, opt)
	}
}

// requestAttrs returns semconv metric attributes for a request's last
// attempt.
func requestAttrs(req *Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if wire := req.LastRequest(); wire != nil {
		attrs = append(attrs, attribute.String("http.request.method", wire.Method))
		if wire.URL != nil {
			if host := wire.URL.Hostname(); host != "" {
				attrs = append(attrs, attribute.String("server.address", host))
			}
		}
	}
	if resp := req.Response(); resp != nil {
		attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode))
	}
	return attrs
}
