package httpsession

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"
)

// Metrics is the timing and transfer snapshot collected for one request. It
// covers the final attempt's network phases plus request-level totals, and is
// attached to every response the request delivers.
//
// Durations are zero when the corresponding phase did not occur (reused
// connections skip DNS, connect, and TLS).
type Metrics struct {
	// RequestStart is when the final attempt began executing.
	RequestStart time.Time
	// ResponseEnd is when the final attempt's body was fully consumed or the
	// attempt failed.
	ResponseEnd time.Time

	// DNSLookup is the duration of the DNS phase.
	DNSLookup time.Duration
	// Connect is the duration of the TCP connect phase.
	Connect time.Duration
	// TLSHandshake is the duration of the TLS phase.
	TLSHandshake time.Duration
	// TimeToFirstByte is the time from writing the request to the first
	// response byte.
	TimeToFirstByte time.Duration
	// Total is ResponseEnd minus RequestStart.
	Total time.Duration

	// BytesSent is the request body size in bytes.
	BytesSent int64
	// BytesReceived is the response body size in bytes.
	BytesReceived int64

	// ConnectionReused reports whether the attempt ran on a pooled
	// connection.
	ConnectionReused bool
	// RemoteAddr is the peer address of the connection, when known.
	RemoteAddr string
	// Protocol is the negotiated TLS application protocol, when any.
	Protocol string

	// Attempts is the total number of task attempts the request made,
	// including the final one.
	Attempts int
}

// metricsCollector accumulates httptrace callbacks for one attempt. The
// transport invokes the callbacks from its own goroutines, so every field is
// guarded by the mutex.
type metricsCollector struct {
	mu sync.Mutex

	start             time.Time
	dnsStart, dnsDone time.Time
	connStart         time.Time
	connDone          time.Time
	tlsStart, tlsDone time.Time
	wroteRequest      time.Time
	firstByte         time.Time

	reused     bool
	remoteAddr string
	protocol   string
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{start: time.Now()}
}

// clientTrace returns the httptrace hooks that populate the collector.
func (c *metricsCollector) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			c.mu.Lock()
			c.dnsStart = time.Now()
			c.mu.Unlock()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			c.mu.Lock()
			c.dnsDone = time.Now()
			c.mu.Unlock()
		},
		ConnectStart: func(_, _ string) {
			c.mu.Lock()
			if c.connStart.IsZero() {
				c.connStart = time.Now()
			}
			c.mu.Unlock()
		},
		ConnectDone: func(_, _ string, _ error) {
			c.mu.Lock()
			c.connDone = time.Now()
			c.mu.Unlock()
		},
		TLSHandshakeStart: func() {
			c.mu.Lock()
			c.tlsStart = time.Now()
			c.mu.Unlock()
		},
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			c.mu.Lock()
			c.tlsDone = time.Now()
			c.protocol = state.NegotiatedProtocol
			c.mu.Unlock()
		},
		GotConn: func(info httptrace.GotConnInfo) {
			c.mu.Lock()
			c.reused = info.Reused
			if info.Conn != nil {
				if addr := info.Conn.RemoteAddr(); addr != nil {
					c.remoteAddr = addr.String()
				}
			}
			c.mu.Unlock()
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			c.mu.Lock()
			c.wroteRequest = time.Now()
			c.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			c.mu.Lock()
			c.firstByte = time.Now()
			c.mu.Unlock()
		},
	}
}

// snapshot freezes the collected timings into a Metrics value.
func (c *metricsCollector) snapshot(bytesSent, bytesReceived int64, attempts int) *Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := time.Now()
	m := &Metrics{
		RequestStart:     c.start,
		ResponseEnd:      end,
		Total:            end.Sub(c.start),
		BytesSent:        bytesSent,
		BytesReceived:    bytesReceived,
		ConnectionReused: c.reused,
		RemoteAddr:       c.remoteAddr,
		Protocol:         c.protocol,
		Attempts:         attempts,
	}
	if !c.dnsStart.IsZero() && !c.dnsDone.IsZero() {
		m.DNSLookup = c.dnsDone.Sub(c.dnsStart)
	}
	if !c.connStart.IsZero() && !c.connDone.IsZero() {
		m.Connect = c.connDone.Sub(c.connStart)
	}
	if !c.tlsStart.IsZero() && !c.tlsDone.IsZero() {
		m.TLSHandshake = c.tlsDone.Sub(c.tlsStart)
	}
	if !c.wroteRequest.IsZero() && !c.firstByte.IsZero() {
		m.TimeToFirstByte = c.firstByte.Sub(c.wroteRequest)
	}
	return m
}
