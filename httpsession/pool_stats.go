package httpsession

import (
	"net/http"
	"time"
)

// PoolStats describes the connection pool configuration in effect on the
// session's transport.
type PoolStats struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
}

// PoolStats reports the pool configuration of the underlying transport,
// unwrapping chaos, breaker, and coalescing layers to find it. ok is
// false when no *http.Transport is reachable, such as under a mock
// transport.
func (s *Session) PoolStats() (stats PoolStats, ok bool) {
	rt := s.client.Transport
	for rt != nil {
		if t, isTransport := rt.(*http.Transport); isTransport {
			return PoolStats{
				MaxIdleConns:        t.MaxIdleConns,
				MaxIdleConnsPerHost: t.MaxIdleConnsPerHost,
				MaxConnsPerHost:     t.MaxConnsPerHost,
				IdleConnTimeout:     t.IdleConnTimeout,
				DisableKeepAlives:   t.DisableKeepAlives,
			}, true
		}
		unwrapper, canUnwrap := rt.(interface{ Unwrap() http.RoundTripper })
		if !canUnwrap {
			break
		}
		rt = unwrapper.Unwrap()
	}
	return PoolStats{}, false
}
