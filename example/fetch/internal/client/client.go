package client

import (
	"os"

	"github.com/meridian-labs/courier-go/example/fetch/internal/config"
	"github.com/meridian-labs/courier-go/httpsession"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// New builds a courier session tuned for large transfers, with retries,
// structured request logs, and Prometheus metrics wired in.
func New(verbose bool) (*httpsession.Session, error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if !verbose {
		logger = logger.Level(zerolog.WarnLevel)
	}

	promMonitor, err := httpsession.NewPrometheusMonitor(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}

	retry := httpsession.DefaultRetryConfig()
	retry.MaxRetries = config.MaxRetries

	return httpsession.New(
		httpsession.WithConfig(httpsession.LargeTransferConfig()),
		httpsession.WithEventMonitors(httpsession.NewLoggingMonitor(logger), promMonitor),
		httpsession.WithInterceptor(httpsession.NewRetryPolicy(retry)),
	), nil
}
