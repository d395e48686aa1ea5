package httpsession

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Adapter transforms a wire request before each attempt executes. Adapters
// may mutate the given request in place or return a clone; the returned
// request is the one that runs. Returning an error fails the attempt without
// creating a task.
//
// Every attempt converts and adapts afresh, so adapters observe retries too.
type Adapter interface {
	Adapt(req *http.Request, session *Session) (*http.Request, error)
}

// AdapterFunc adapts a function to an Adapter.
type AdapterFunc func(req *http.Request, session *Session) (*http.Request, error)

// Adapt implements Adapter.
func (f AdapterFunc) Adapt(req *http.Request, session *Session) (*http.Request, error) {
	return f(req, session)
}

// Retrier decides whether a failed attempt should run again. It is consulted
// once per failed attempt, after validation.
type Retrier interface {
	ShouldRetry(req *Request, session *Session, err error) RetryDecision
}

// RetrierFunc adapts a function to a Retrier.
type RetrierFunc func(req *Request, session *Session, err error) RetryDecision

// ShouldRetry implements Retrier.
func (f RetrierFunc) ShouldRetry(req *Request, session *Session, err error) RetryDecision {
	return f(req, session, err)
}

// Interceptor bundles request adaptation and retry.
type Interceptor interface {
	Adapter
	Retrier
}

// RetryDecision is a Retrier's verdict on a failed attempt. Construct one
// with Retry, RetryWithDelay, DoNotRetry, or DoNotRetryWithError.
type RetryDecision struct {
	retry bool
	delay time.Duration
	err   error
}

// Retry requests another attempt immediately.
func Retry() RetryDecision {
	return RetryDecision{retry: true}
}

// RetryWithDelay requests another attempt after the given delay.
func RetryWithDelay(delay time.Duration) RetryDecision {
	return RetryDecision{retry: true, delay: delay}
}

// DoNotRetry declines to retry and defers to any remaining retriers.
func DoNotRetry() RetryDecision {
	return RetryDecision{}
}

// DoNotRetryWithError declines to retry and fails the request with err. The
// original attempt error is preserved alongside it in a RetryFailedError.
func DoNotRetryWithError(err error) RetryDecision {
	return RetryDecision{err: err}
}

// WillRetry reports whether the decision requests another attempt.
func (d RetryDecision) WillRetry() bool { return d.retry }

// Delay returns the requested delay before the next attempt.
func (d RetryDecision) Delay() time.Duration { return d.delay }

// Err returns the error attached by DoNotRetryWithError, if any.
func (d RetryDecision) Err() error { return d.err }

// conclusive reports whether the decision ends retrier iteration. A plain
// DoNotRetry defers to the next retrier in a chain; everything else is final.
func (d RetryDecision) conclusive() bool { return d.retry || d.err != nil }

// NewInterceptor composes adapter and retrier chains into one Interceptor.
//
// Adaptation runs every adapter in order, feeding each the previous one's
// output; the first error aborts. Retry consults retriers in order and stops
// at the first conclusive decision.
func NewInterceptor(adapters []Adapter, retriers []Retrier) Interceptor {
	return &compositeInterceptor{adapters: adapters, retriers: retriers}
}

// ComposeInterceptors chains whole interceptors with the same semantics as
// NewInterceptor.
func ComposeInterceptors(interceptors ...Interceptor) Interceptor {
	adapters := make([]Adapter, len(interceptors))
	retriers := make([]Retrier, len(interceptors))
	for i, ic := range interceptors {
		adapters[i] = ic
		retriers[i] = ic
	}
	return &compositeInterceptor{adapters: adapters, retriers: retriers}
}

type compositeInterceptor struct {
	adapters []Adapter
	retriers []Retrier
}

func (c *compositeInterceptor) Adapt(req *http.Request, session *Session) (*http.Request, error) {
	out := req
	for _, a := range c.adapters {
		var err error
		out, err = a.Adapt(out, session)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *compositeInterceptor) ShouldRetry(req *Request, session *Session, err error) RetryDecision {
	for _, r := range c.retriers {
		if decision := r.ShouldRetry(req, session, err); decision.conclusive() {
			return decision
		}
	}
	return DoNotRetry()
}

// BearerTokenAdapter sets a static bearer token on every attempt.
func BearerTokenAdapter(token string) Adapter {
	return AdapterFunc(func(req *http.Request, _ *Session) (*http.Request, error) {
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
}

// TokenSourceAdapter authorizes every attempt from an oauth2 token source.
// The source handles caching and refresh; an expired token is renewed before
// the attempt runs.
//
// Example:
//
//	cfg := clientcredentials.Config{ClientID: id, ClientSecret: secret, TokenURL: url}
//	session := httpsession.New(httpsession.WithInterceptor(
//	    httpsession.NewInterceptor([]httpsession.Adapter{
//	        httpsession.TokenSourceAdapter(cfg.TokenSource(ctx)),
//	    }, nil),
//	))
func TokenSourceAdapter(source oauth2.TokenSource) Adapter {
	return AdapterFunc(func(req *http.Request, _ *Session) (*http.Request, error) {
		token, err := source.Token()
		if err != nil {
			return nil, err
		}
		token.SetAuthHeader(req)
		return req, nil
	})
}

// RateLimitMode selects how a RateLimitAdapter handles exhausted capacity.
type RateLimitMode int

const (
	// RateLimitWait blocks the attempt until the limiter grants a slot or
	// the request's context ends.
	RateLimitWait RateLimitMode = iota
	// RateLimitReject fails the attempt with ErrRateLimited immediately.
	RateLimitReject
)

// RateLimitAdapter throttles attempts through a token bucket. Retried
// attempts pass through the limiter again, so a retry storm drains capacity
// like any other traffic.
func RateLimitAdapter(limiter *rate.Limiter, mode RateLimitMode) Adapter {
	return AdapterFunc(func(req *http.Request, _ *Session) (*http.Request, error) {
		switch mode {
		case RateLimitReject:
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
		default:
			if err := limiter.Wait(req.Context()); err != nil {
				return nil, err
			}
		}
		return req, nil
	})
}
