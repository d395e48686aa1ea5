package httpsession

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler returns an http.Handler exposing the default Prometheus
// registry in the standard text format.
//
// Example:
//
//	mux.Handle("/metrics", httpsession.MetricsHandler())
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// NewPrometheusMonitor returns an EventMonitor that records request metrics
// into the given registerer. Registration fails if another collector already
// claims one of the metric names.
//
// Example:
//
//	monitor, err := httpsession.NewPrometheusMonitor(prometheus.DefaultRegisterer)
//	if err != nil {
//	    return err
//	}
//	session := httpsession.New(httpsession.WithEventMonitors(monitor))
func NewPrometheusMonitor(reg prometheus.Registerer) (*EventMonitor, error) {
	pm := &promMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "httpsession",
			Name:      "requests_total",
			Help:      "Requests finished, by method and final status.",
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "httpsession",
			Name:      "request_duration_seconds",
			Help:      "Request duration across all attempts, by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "httpsession",
			Name:      "in_flight_attempts",
			Help:      "Attempts currently executing.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "httpsession",
			Name:      "retries_total",
			Help:      "Retry attempts scheduled.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "httpsession",
			Name:      "request_errors_total",
			Help:      "Requests finished with an error, by error type.",
		}, []string{"error_type"}),
	}

	collectors := []prometheus.Collector{pm.requests, pm.duration, pm.inFlight, pm.retries, pm.errors}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &EventMonitor{
		RequestDidCreateTask: func(*Request, int64) {
			pm.inFlight.Inc()
		},
		RequestDidCompleteTask: func(*Request, *http.Response, error) {
			pm.inFlight.Dec()
		},
		RequestIsRetrying: func(*Request, int) {
			pm.retries.Inc()
		},
		RequestDidFinish: func(req *Request) {
			method := "UNKNOWN"
			if wire := req.LastRequest(); wire != nil {
				method = wire.Method
			}

			status := "none"
			if resp := req.Response(); resp != nil {
				status = strconv.Itoa(resp.StatusCode)
			}
			pm.requests.WithLabelValues(method, status).Inc()

			if metrics := req.Metrics(); metrics != nil {
				pm.duration.WithLabelValues(method).Observe(metrics.Total.Seconds())
			}
			if err := req.Err(); err != nil {
				pm.errors.WithLabelValues(errorTypeOf(err)).Inc()
			}
		},
	}, nil
}

type promMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	retries  prometheus.Counter
	errors   *prometheus.CounterVec
}
