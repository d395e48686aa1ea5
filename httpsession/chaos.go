package httpsession

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// ============================================================================
// Chaos Injection
// ============================================================================

// ErrChaosInjected is the synthetic failure returned by injected errors.
// Classifiers treat it as a retryable network error.
var ErrChaosInjected = errors.New("httpsession: chaos injected error")

// ChaosConfig enables fault injection for resilience testing: added
// latency, synthetic connection errors, and hangs until the request
// context expires. Rates are probabilities in [0, 1].
type ChaosConfig struct {
	// LatencyMs is added to every request.
	LatencyMs int

	// LatencyJitterMs adds up to this much random extra latency.
	LatencyJitterMs int

	// ErrorRate is the fraction of requests that fail with a synthetic
	// connection error.
	ErrorRate float64

	// TimeoutRate is the fraction of requests that hang until the
	// request context is cancelled.
	TimeoutRate float64
}

// Delay returns the injected latency for one request.
func (c ChaosConfig) Delay() time.Duration {
	delay := time.Duration(c.LatencyMs) * time.Millisecond
	if c.LatencyJitterMs > 0 {
		delay += time.Duration(rand.IntN(c.LatencyJitterMs)) * time.Millisecond //nolint:gosec // not security sensitive
	}
	return delay
}

// ShouldInjectError reports whether this request fails synthetically.
func (c ChaosConfig) ShouldInjectError() bool {
	return c.ErrorRate > 0 && rand.Float64() < c.ErrorRate //nolint:gosec // not security sensitive
}

// ShouldInjectTimeout reports whether this request hangs.
func (c ChaosConfig) ShouldInjectTimeout() bool {
	return c.TimeoutRate > 0 && rand.Float64() < c.TimeoutRate //nolint:gosec // not security sensitive
}

// chaosTransport injects configured faults before delegating to the real
// transport.
type chaosTransport struct {
	next http.RoundTripper
	cfg  ChaosConfig
}

func newChaosTransport(next http.RoundTripper, cfg ChaosConfig) *chaosTransport {
	return &chaosTransport{next: next, cfg: cfg}
}

func (t *chaosTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if t.cfg.ShouldInjectTimeout() {
		<-ctx.Done()
		return nil, context.Cause(ctx)
	}

	if delay := t.cfg.Delay(); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}

	if t.cfg.ShouldInjectError() {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: ErrChaosInjected}
	}

	return t.next.RoundTrip(req)
}

func (t *chaosTransport) Unwrap() http.RoundTripper { return t.next }
