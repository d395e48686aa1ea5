package httpsession

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
)

// RetryClassifier judges whether a finished attempt's outcome is worth
// retrying. RetryPolicy consults one per failed attempt; a custom classifier
// can widen or narrow the default rules.
//
// Example, retry every 5xx:
//
//	policy := httpsession.NewRetryPolicy(httpsession.RetryConfig{
//	    Classifier: func(resp *http.Response, err error) bool {
//	        if resp != nil && resp.StatusCode >= 500 {
//	            return true
//	        }
//	        return httpsession.DefaultClassifier(resp, err)
//	    },
//	})
type RetryClassifier func(resp *http.Response, err error) bool

// DefaultClassifier applies production-safe retry rules.
//
// Retries on transient network failures and on 429, 502, 503, and 504.
// Never retries cancellation, permanent failures (TLS, NXDOMAIN), plain 500s,
// or 4xx client errors.
func DefaultClassifier(resp *http.Response, err error) bool {
	if err == nil && resp != nil && resp.StatusCode < 400 {
		return false
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCancelled) {
			return false
		}
		if IsPermanentError(err) {
			return false
		}
		return true
	}

	if resp != nil {
		return isRetryableStatusCode(resp.StatusCode)
	}
	return false
}

// AlwaysRetryClassifier retries any error and any 4xx or 5xx response.
func AlwaysRetryClassifier() RetryClassifier {
	return func(resp *http.Response, err error) bool {
		return err != nil || (resp != nil && resp.StatusCode >= 400)
	}
}

// NeverRetryClassifier never retries. Use when retries are handled at a
// higher level.
func NeverRetryClassifier() RetryClassifier {
	return func(*http.Response, error) bool {
		return false
	}
}

// StatusCodeClassifier retries on the given status codes. Transient network
// errors are still retried; permanent errors are not.
func StatusCodeClassifier(codes ...int) RetryClassifier {
	codeSet := make(map[int]bool, len(codes))
	for _, code := range codes {
		codeSet[code] = true
	}

	return func(resp *http.Response, err error) bool {
		if err != nil {
			return IsTransientError(err) && !IsPermanentError(err)
		}
		return resp != nil && codeSet[resp.StatusCode]
	}
}

// isRetryableStatusCode reports whether a status code signals a transient
// condition. A plain 500 is excluded; it usually means a server bug, not a
// blip.
func isRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsTransientError reports whether err is a network failure that may succeed
// on retry.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		// NXDOMAIN and other hard resolution failures are permanent.
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Fallback for wrapped errors from libraries that defeat the type checks.
	return containsTransientPattern(err)
}

// IsPermanentError reports whether err will never succeed on retry.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}

	if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EHOSTDOWN) {
		return true
	}

	return containsPermanentPattern(err)
}

func containsTransientPattern(err error) bool {
	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"connection refused",
		"connection reset",
		"network is down",
		"network unreachable",
		"i/o timeout",
		"temporary failure",
		"server closed",
		"broken pipe",
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

func containsPermanentPattern(err error) bool {
	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"x509:",
		"certificate",
		"tls:",
		"protocol error",
		"no route to host",
		"permission denied",
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}
