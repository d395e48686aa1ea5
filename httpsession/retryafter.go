package httpsession

import (
	"net/http"
	"strconv"
	"time"
)

// RetryAfter extracts the Retry-After delay from a response. The header may
// carry a delta in seconds or an HTTP-date; both forms are handled, and a
// date already in the past yields a zero delay.
//
// Nothing consumes the header automatically. Pair it with a RetryPolicy via
// HonorRetryAfter, or read it from a handler:
//
//	if delay, ok := httpsession.RetryAfter(resp.Response); ok {
//	    time.AfterFunc(delay, enqueueAgain)
//	}
func RetryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	if when, err := http.ParseTime(raw); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}

	return 0, false
}
