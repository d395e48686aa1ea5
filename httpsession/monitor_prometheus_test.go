package httpsession

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	return byName
}

func TestPrometheusMonitor_RecordsRequestOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	monitor, err := NewPrometheusMonitor(reg)
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

	families := gather(t, reg)

	requests, ok := families["httpsession_requests_total"]
	require.True(t, ok)
	total := 0.0
	for _, m := range requests.GetMetric() {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		assert.Equal(t, "GET", labels["method"])
		assert.Equal(t, "200", labels["status"])
		total += m.GetCounter().GetValue()
	}
	assert.Equal(t, 2.0, total)

	duration, ok := families["httpsession_request_duration_seconds"]
	require.True(t, ok)
	require.Len(t, duration.GetMetric(), 1)
	assert.Equal(t, uint64(2), duration.GetMetric()[0].GetHistogram().GetSampleCount())

	inFlight, ok := families["httpsession_in_flight_attempts"]
	require.True(t, ok)
	assert.Zero(t, inFlight.GetMetric()[0].GetGauge().GetValue())

	errorsFamily, ok := families["httpsession_request_errors_total"]
	require.True(t, ok)
	require.Len(t, errorsFamily.GetMetric(), 1)
	errLabels := errorsFamily.GetMetric()[0].GetLabel()
	require.Len(t, errLabels, 1)
	assert.Equal(t, "error_type", errLabels[0].GetName())
	assert.Equal(t, "validation_error", errLabels[0].GetValue())
	assert.Equal(t, 1.0, errorsFamily.GetMetric()[0].GetCounter().GetValue())
}

func TestPrometheusMonitor_CountsRetries(t *testing.T) {
	reg := prometheus.NewRegistry()
	monitor, err := NewPrometheusMonitor(reg)
	require.NoError(t, err)

	mock := NewMockTransport().StubResponse(http.StatusServiceUnavailable, "down")
	session := New(
		WithTransport(mock),
		WithInterceptor(fastRetryPolicy(2)),
		WithEventMonitors(monitor),
	)
	defer session.Invalidate()

	req := session.Get("http://backend.test/flaky").Validate()
	req.ResponseData(func(DataResponse[[]byte]) {})
	awaitDone(t, req.Request)

	families := gather(t, reg)
	retries, ok := families["httpsession_retries_total"]
	require.True(t, ok)
	assert.Equal(t, 2.0, retries.GetMetric()[0].GetCounter().GetValue())
}

func TestPrometheusMonitor_DuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusMonitor(reg)
	require.NoError(t, err)

	_, err = NewPrometheusMonitor(reg)
	assert.Error(t, err, "the metric names are already claimed")
}

func TestMetricsHandler(t *testing.T) {
	handler := MetricsHandler()
	assert.NotNil(t, handler)
}
