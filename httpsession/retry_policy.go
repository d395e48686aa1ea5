package httpsession

import (
	"errors"
	"net/http"
	"slices"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig holds retry behavior configuration. Use DefaultRetryConfig()
// for balanced defaults, then modify as needed.
//
// Delays use exponential backoff with jitter unless NewBackOff supplies
// another strategy. Jitter prevents synchronized retry storms when many
// clients fail together.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts. The initial
	// attempt is not counted, so a request makes at most MaxRetries+1
	// attempts. Zero disables retries.
	// Default: 2
	MaxRetries uint

	// InitialInterval is the first backoff interval.
	// Default: 500ms
	InitialInterval time.Duration

	// MaxInterval caps the backoff interval regardless of growth.
	// Default: 30s
	MaxInterval time.Duration

	// MaxElapsedTime is the total time budget measured from request
	// creation. Once exceeded, no more retries occur. Zero means no budget.
	// Default: 2m
	MaxElapsedTime time.Duration

	// Multiplier controls exponential interval growth.
	// Default: 2.0
	Multiplier float64

	// JitterFactor randomizes each interval (0.0-1.0).
	// Default: 0.5
	JitterFactor float64

	// RetryableMethods are the HTTP methods eligible for retry. A request
	// whose method is absent never retries. Nil means the idempotent
	// methods: GET, HEAD, OPTIONS, PUT, DELETE, TRACE.
	RetryableMethods []string

	// RetryableStatusCodes are response status codes retried without
	// consulting the classifier. Nil means 429, 502, 503, and 504.
	RetryableStatusCodes []int

	// Classifier judges error outcomes with no retryable status code.
	// Nil means DefaultClassifier.
	Classifier RetryClassifier

	// HonorRetryAfter, when set, lets a parseable Retry-After header on 429
	// and 503 responses override the computed backoff delay.
	HonorRetryAfter bool

	// NewBackOff supplies the delay strategy. Each decision replays a fresh
	// instance, so strategies stay stateless across requests. Nil means
	// exponential backoff from the intervals above.
	NewBackOff func() backoff.BackOff
}

// Default values for RetryConfig.
const (
	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 2

	// DefaultInitialInterval is the default starting backoff interval.
	DefaultInitialInterval = 500 * time.Millisecond

	// DefaultMaxInterval is the default maximum backoff interval.
	DefaultMaxInterval = 30 * time.Second

	// DefaultMaxElapsedTime is the default total retry time budget.
	DefaultMaxElapsedTime = 2 * time.Minute

	// DefaultMultiplier is the default backoff multiplier.
	DefaultMultiplier = 2.0

	// DefaultJitterFactor is the default randomization factor.
	DefaultJitterFactor = 0.5
)

// defaultRetryableMethods are the idempotent HTTP methods.
var defaultRetryableMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPut,
	http.MethodDelete,
	http.MethodTrace,
}

// defaultRetryableStatusCodes signal transient conditions. A plain 500 is
// excluded; it usually means a server bug, not a blip.
var defaultRetryableStatusCodes = []int{
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// DefaultRetryConfig returns balanced defaults for general use: up to two
// retries with exponential backoff (500ms, 1s), a two minute budget, and 50%
// jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		MaxElapsedTime:  DefaultMaxElapsedTime,
		Multiplier:      DefaultMultiplier,
		JitterFactor:    DefaultJitterFactor,
	}
}

// AggressiveRetryConfig returns configuration for operations that must
// succeed: five retries starting at 200ms with a five minute budget. More
// retries mean more load on struggling services; make sure the target can
// take it.
func AggressiveRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     60 * time.Second,
		MaxElapsedTime:  5 * time.Minute,
		Multiplier:      2.0,
		JitterFactor:    0.5,
	}
}

// ConservativeRetryConfig returns configuration for rate-limited or
// expensive services: a single retry after one second.
func ConservativeRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      1,
		InitialInterval: 1 * time.Second,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.5,
	}
}

// IsEnabled reports whether the configuration allows any retries.
func (c RetryConfig) IsEnabled() bool {
	return c.MaxRetries > 0
}

// RetryPolicy is a Retrier that retries idempotent requests on transient
// failures with backoff.
//
// A request retries only when all of these hold: its retry count is below
// MaxRetries, the elapsed-time budget is not exhausted, its method is
// retryable, and either the response status is in RetryableStatusCodes or
// the classifier accepts the outcome.
//
// Example:
//
//	session := httpsession.New(
//	    httpsession.WithInterceptor(httpsession.NewRetryPolicy(httpsession.DefaultRetryConfig())),
//	)
type RetryPolicy struct {
	cfg RetryConfig
}

var _ Interceptor = (*RetryPolicy)(nil)

// NewRetryPolicy creates a RetryPolicy. Zero-valued intervals, multiplier,
// and jitter fall back to the package defaults; MaxRetries stays as given.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.JitterFactor <= 0 {
		cfg.JitterFactor = DefaultJitterFactor
	}
	if cfg.RetryableMethods == nil {
		cfg.RetryableMethods = defaultRetryableMethods
	}
	if cfg.RetryableStatusCodes == nil {
		cfg.RetryableStatusCodes = defaultRetryableStatusCodes
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultClassifier
	}
	return &RetryPolicy{cfg: cfg}
}

// NewConnectionLostRetryPolicy creates a RetryPolicy that retries idempotent
// requests only when the connection dropped mid-flight. Response status codes
// never trigger a retry.
func NewConnectionLostRetryPolicy() *RetryPolicy {
	cfg := DefaultRetryConfig()
	cfg.RetryableStatusCodes = []int{}
	cfg.Classifier = func(_ *http.Response, err error) bool {
		return err != nil && (errors.Is(err, syscall.ECONNRESET) ||
			errors.Is(err, syscall.EPIPE))
	}
	return NewRetryPolicy(cfg)
}

// Adapt implements Adapter as a pass-through, so a RetryPolicy can serve as
// a session's sole Interceptor.
func (p *RetryPolicy) Adapt(req *http.Request, _ *Session) (*http.Request, error) {
	return req, nil
}

// ShouldRetry implements Retrier.
func (p *RetryPolicy) ShouldRetry(req *Request, _ *Session, err error) RetryDecision {
	if uint(req.RetryCount()) >= p.cfg.MaxRetries {
		return DoNotRetry()
	}
	if p.cfg.MaxElapsedTime > 0 && time.Since(req.CreatedAt()) >= p.cfg.MaxElapsedTime {
		return DoNotRetry()
	}

	wire := req.LastRequest()
	if wire == nil || !slices.Contains(p.cfg.RetryableMethods, wire.Method) {
		return DoNotRetry()
	}

	resp := req.Response()
	if !p.outcomeRetryable(resp, err) {
		return DoNotRetry()
	}

	if p.cfg.HonorRetryAfter && resp != nil {
		if delay, ok := RetryAfter(resp); ok {
			return RetryWithDelay(delay)
		}
	}

	delay, ok := p.delayFor(req.RetryCount())
	if !ok {
		return DoNotRetry()
	}
	return RetryWithDelay(delay)
}

func (p *RetryPolicy) outcomeRetryable(resp *http.Response, err error) bool {
	if resp != nil && slices.Contains(p.cfg.RetryableStatusCodes, resp.StatusCode) {
		return true
	}
	return err != nil && p.cfg.Classifier(resp, err)
}

// delayFor computes the delay before retry number retryCount+1 by replaying
// a fresh backoff. Replaying keeps the policy free of per-request state, so
// one policy can serve any number of concurrent requests.
func (p *RetryPolicy) delayFor(retryCount int) (time.Duration, bool) {
	newBackOff := p.cfg.NewBackOff
	if newBackOff == nil {
		cfg := p.cfg
		newBackOff = func() backoff.BackOff { return ExponentialBackOffFromConfig(cfg) }
	}

	bo := newBackOff()
	bo.Reset()
	var delay time.Duration
	for i := 0; i <= retryCount; i++ {
		delay = bo.NextBackOff()
		if delay == backoff.Stop {
			return 0, false
		}
	}
	return delay, true
}
