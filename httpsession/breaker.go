package httpsession

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// ============================================================================
// Circuit Breaking
// ============================================================================

// NewRedisStore creates a shared breaker store backed by Redis so multiple
// instances trip and recover together.
//
// Example:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	cfg := httpsession.DefaultBreakerConfig()
//	cfg.Store = httpsession.NewRedisStore(rdb)
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// BreakerClassifier reports whether one exchange counts against the
// breaker. Network errors and 5xx responses do by default; 429 does not,
// since backoff handles it.
type BreakerClassifier func(resp *http.Response, err error) bool

// BreakerConfig configures the circuit breaker.
//
// States follow the usual model: closed passes requests through, open
// rejects them immediately with ErrBreakerOpen, half-open admits
// MaxRequests probes after Timeout.
type BreakerConfig struct {
	// Name identifies the breaker in state-change callbacks and errors.
	// Defaults to "httpsession".
	Name string

	// MaxRequests is how many probes the half-open state admits. Zero
	// means one.
	MaxRequests uint32

	// Interval resets the closed-state counters periodically. Zero keeps
	// them forever.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureThreshold is the minimum request count before FailureRatio
	// can trip the breaker.
	FailureThreshold uint32

	// FailureRatio trips the breaker once failures/requests reaches it.
	FailureRatio float64

	// ConsecutiveFailures trips the breaker on a run of failures. Zero
	// disables the rule.
	ConsecutiveFailures uint32

	// Store shares breaker state across instances. Nil keeps it local.
	Store gobreaker.SharedDataStore

	// Classifier decides what counts as a failure. Nil uses
	// DefaultBreakerClassifier.
	Classifier BreakerClassifier

	// OnStateChange is invoked on every state transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns a local in-memory breaker tuned to trip on
// sustained trouble without reacting to isolated failures.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig returns DefaultBreakerConfig backed by a shared
// store, typically from NewRedisStore.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts network errors and 5xx responses as
// failures and ignores everything else.
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		return isNetworkError(err)
	}
	return resp != nil && resp.StatusCode >= 500
}

// isNetworkError matches transport-level failures: timeouts, refused or
// reset connections.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

// errSyntheticFailure marks a classified-as-failure response inside the
// breaker so it counts against the trip rules. It never escapes RoundTrip.
var errSyntheticFailure = errors.New("httpsession: synthetic breaker failure")

// circuitExecutor is satisfied by both local and distributed gobreaker
// circuits.
type circuitExecutor interface {
	Execute(fn func() (*http.Response, error)) (*http.Response, error)
}

// breakerTransport runs every exchange through a gobreaker circuit.
type breakerTransport struct {
	breaker    circuitExecutor
	next       http.RoundTripper
	classifier BreakerClassifier
	name       string
}

func newBreakerTransport(next http.RoundTripper, cfg BreakerConfig) http.RoundTripper {
	name := cfg.Name
	if name == "" {
		name = "httpsession"
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = DefaultBreakerClassifier
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureThreshold > 0 && counts.Requests < cfg.FailureThreshold {
				return false
			}
			if cfg.FailureRatio > 0 && counts.TotalFailures > 0 {
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: cfg.OnStateChange,
	}

	var cb circuitExecutor
	if cfg.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[*http.Response](cfg.Store, settings)
		if err != nil {
			// Fall back to a local circuit when the store cannot be
			// used at construction.
			cb = gobreaker.NewCircuitBreaker[*http.Response](settings)
		} else {
			cb = dcb
		}
	} else {
		cb = gobreaker.NewCircuitBreaker[*http.Response](settings)
	}

	return &breakerTransport{
		breaker:    cb,
		next:       next,
		classifier: classifier,
		name:       name,
	}
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req) //nolint:bodyclose // caller owns the body
		if t.classifier(resp, err) && err == nil {
			return resp, errSyntheticFailure
		}
		return resp, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrBreakerOpen, t.name)
		}
		// A classified 5xx still reaches the caller as a plain response.
		if errors.Is(err, errSyntheticFailure) && resp != nil {
			return resp, nil
		}
		return nil, err
	}
	return resp, nil
}

func (t *breakerTransport) Unwrap() http.RoundTripper { return t.next }
