package httpsession

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// debugLogger is the package-level zerolog logger for debug output.
var debugLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// CURLDescription renders a request as an equivalent cURL command, usable to
// reproduce the request from a shell. Sensitive headers are included
// verbatim; treat the output as debugging material, not log fodder.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' \
//	  -H 'Content-Type: application/json' -d '{"name":"John"}'
func CURLDescription(req *http.Request) string {
	var parts []string

	parts = append(parts, "curl")

	if req.Method != http.MethodGet {
		parts = append(parts, "-X", req.Method)
	}

	parts = append(parts, fmt.Sprintf("'%s'", req.URL.String()))

	// Sorted for stable output.
	headerKeys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)

	for _, k := range headerKeys {
		for _, v := range req.Header[k] {
			parts = append(parts, "-H", fmt.Sprintf("'%s: %s'", k, v))
		}
	}

	if body := replayBody(req); len(body) > 0 {
		bodyStr := strings.ReplaceAll(string(body), "'", "'\\''")
		parts = append(parts, "-d", fmt.Sprintf("'%s'", bodyStr))
	}

	return strings.Join(parts, " ")
}

// CURLDescription renders the most recent attempt's wire request as a
// cURL command. Empty before the first attempt builds one.
func (r *Request) CURLDescription() string {
	wire := r.LastRequest()
	if wire == nil {
		return ""
	}
	return CURLDescription(wire)
}

// replayBody reads a copy of the request body without consuming it. Only
// bodies with GetBody can be replayed.
func replayBody(req *http.Request) []byte {
	if req.GetBody == nil {
		return nil
	}
	rc, err := req.GetBody()
	if err != nil {
		return nil
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil
	}
	return body
}

// NewLoggingMonitor returns an EventMonitor that logs request lifecycle
// events through the given zerolog logger at debug level.
//
// Example:
//
//	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	session := httpsession.New(httpsession.WithEventMonitors(
//	    httpsession.NewLoggingMonitor(logger),
//	))
func NewLoggingMonitor(logger zerolog.Logger) *EventMonitor {
	return &EventMonitor{
		RequestDidCreateTask: func(req *Request, taskID int64) {
			evt := logger.Debug().
				Str("request_id", req.ID().String()).
				Int64("task_id", taskID).
				Int("retry_count", req.RetryCount())
			if wire := req.LastRequest(); wire != nil {
				evt = evt.Str("method", wire.Method).Str("url", wire.URL.String())
			}
			evt.Msg("HTTP request")
		},
		RequestDidCompleteTask: func(req *Request, resp *http.Response, err error) {
			evt := logger.Debug().
				Str("request_id", req.ID().String())
			if resp != nil {
				evt = evt.Int("status", resp.StatusCode).
					Int64("content_length", resp.ContentLength)
			}
			if err != nil {
				evt = evt.Err(err)
			}
			evt.Msg("HTTP response")
		},
		RequestDidValidate: func(req *Request, resp *http.Response, err error) {
			if err == nil {
				return
			}
			logger.Debug().
				Str("request_id", req.ID().String()).
				Err(err).
				Msg("response validation failed")
		},
		RequestIsRetrying: func(req *Request, retryCount int) {
			logger.Debug().
				Str("request_id", req.ID().String()).
				Int("retry_count", retryCount).
				Msg("retrying request")
		},
		RequestDidCancel: func(req *Request) {
			logger.Debug().
				Str("request_id", req.ID().String()).
				Msg("request cancelled")
		},
		RequestDidFinish: func(req *Request) {
			evt := logger.Debug().
				Str("request_id", req.ID().String()).
				Str("state", req.State().String())
			if err := req.Err(); err != nil {
				evt = evt.Err(err)
			}
			if metrics := req.Metrics(); metrics != nil {
				evt = evt.Dur("duration_ms", metrics.Total).
					Int("attempts", metrics.Attempts)
			}
			evt.Msg("request finished")
		},
	}
}
