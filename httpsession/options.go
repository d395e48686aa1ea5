package httpsession

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Config holds the HTTP transport configuration. Use DefaultConfig() or
// one of the other presets as a starting point, then modify fields as
// needed.
//
// Example:
//
//	cfg := httpsession.DefaultConfig()
//	cfg.Timeout = 10 * time.Second
//	cfg.MaxIdleConnsPerHost = 50
//
//	session := httpsession.New(httpsession.WithConfig(cfg))
type Config struct {
	// Timeout bounds the entire exchange including body transfer. Zero
	// means no timeout. Suspended transfers keep counting against it, so
	// large or pausable downloads usually want LargeTransferConfig.
	Timeout time.Duration

	// MaxIdleConns caps idle keep-alive connections across all hosts.
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections per host. The most
	// important pool knob when most traffic goes to one backend.
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits total connections per host, idle and active.
	// Zero means unlimited.
	MaxConnsPerHost int

	// IdleConnTimeout closes idle connections after this long. Keep it at
	// or below the backend's own idle timeout.
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	TLSHandshakeTimeout time.Duration

	// ExpectContinueTimeout is the wait for a "100 Continue" before a
	// large body is sent anyway.
	ExpectContinueTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers after
	// the request is written. Zero defers to Timeout. Useful to fail fast
	// while still allowing long body transfers.
	ResponseHeaderTimeout time.Duration

	// DialTimeout bounds TCP connection establishment.
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive probe interval.
	KeepAlive time.Duration

	// FallbackDelay is the RFC 6555 happy-eyeballs delay before the
	// secondary address family is tried. Negative disables it.
	FallbackDelay time.Duration

	// WriteBufferSize and ReadBufferSize size the per-connection buffers.
	WriteBufferSize int
	ReadBufferSize  int

	// MaxResponseHeaderBytes limits response header size. Zero uses the
	// net/http default.
	MaxResponseHeaderBytes int64

	// DisableKeepAlives forces a fresh connection per request.
	DisableKeepAlives bool

	// DisableCompression leaves Accept-Encoding alone. Disabled by
	// default; downloads want raw bytes with honest lengths.
	DisableCompression bool

	// ForceHTTP2 forces an HTTP/2 attempt over HTTPS.
	ForceHTTP2 bool
}

// DefaultConfig returns balanced settings for typical API traffic.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 0,

		DialTimeout:   5 * time.Second,
		KeepAlive:     30 * time.Second,
		FallbackDelay: 300 * time.Millisecond,

		WriteBufferSize: 64 * 1024,
		ReadBufferSize:  64 * 1024,

		DisableKeepAlives:  false,
		DisableCompression: true,
		ForceHTTP2:         false,
	}
}

// HighThroughputConfig returns settings for high-concurrency traffic to a
// small set of backends: a larger pool, unlimited per-host bursts, and
// bigger buffers.
func HighThroughputConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 30 * time.Second
	cfg.MaxIdleConns = 500
	cfg.MaxIdleConnsPerHost = 100
	cfg.MaxConnsPerHost = 0
	cfg.IdleConnTimeout = 120 * time.Second
	cfg.WriteBufferSize = 128 * 1024
	cfg.ReadBufferSize = 128 * 1024
	return cfg
}

// LowLatencyConfig returns settings that fail fast: short timeouts, quick
// dials, and HTTP/2 preferred.
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.MaxIdleConns = 50
	cfg.MaxIdleConnsPerHost = 25
	cfg.MaxConnsPerHost = 50
	cfg.IdleConnTimeout = 60 * time.Second
	cfg.TLSHandshakeTimeout = 5 * time.Second
	cfg.ExpectContinueTimeout = 500 * time.Millisecond
	cfg.ResponseHeaderTimeout = 3 * time.Second
	cfg.DialTimeout = 2 * time.Second
	cfg.KeepAlive = 15 * time.Second
	cfg.FallbackDelay = 150 * time.Millisecond
	cfg.WriteBufferSize = 32 * 1024
	cfg.ReadBufferSize = 32 * 1024
	cfg.ForceHTTP2 = true
	return cfg
}

// LargeTransferConfig returns settings for uploads and downloads of
// unbounded size: no overall timeout, a header timeout to fail fast on
// dead backends, and large buffers. Pair with context deadlines when a
// hard bound is still wanted.
func LargeTransferConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 0
	cfg.ResponseHeaderTimeout = 10 * time.Second
	cfg.WriteBufferSize = 128 * 1024
	cfg.ReadBufferSize = 128 * 1024
	return cfg
}

// ConservativeConfig returns resource-conscious settings for constrained
// environments such as serverless functions and sidecars.
func ConservativeConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Second
	cfg.MaxIdleConns = 20
	cfg.MaxIdleConnsPerHost = 5
	cfg.MaxConnsPerHost = 20
	cfg.IdleConnTimeout = 30 * time.Second
	cfg.WriteBufferSize = 4 * 1024
	cfg.ReadBufferSize = 4 * 1024
	return cfg
}

// sessionConfig holds the full session configuration assembled from
// options.
type sessionConfig struct {
	httpConfig Config

	// startImmediately resumes a request when its first response handler
	// is attached.
	startImmediately bool

	interceptor Interceptor
	monitors    []*EventMonitor
	redirector  Redirector
	trust       *ServerTrustManager

	tlsConfig            *tls.Config
	proxyURL             *url.URL
	proxyFromEnvironment bool

	// tempDir stages in-progress downloads. Empty means the system
	// default.
	tempDir string

	coalesce bool
	chaos    *ChaosConfig
	breaker  *BreakerConfig

	// transport overrides the built transport entirely when set.
	transport http.RoundTripper

	debug bool
}

func newSessionConfig(opts ...Option) *sessionConfig {
	cfg := &sessionConfig{
		httpConfig:           DefaultConfig(),
		startImmediately:     true,
		proxyFromEnvironment: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// buildTransport creates an http.Transport from the configuration. A
// server trust manager takes over certificate verification entirely.
func (cfg *sessionConfig) buildTransport() *http.Transport {
	hc := cfg.httpConfig

	dialer := &net.Dialer{
		Timeout:       hc.DialTimeout,
		KeepAlive:     hc.KeepAlive,
		FallbackDelay: hc.FallbackDelay,
	}

	tlsCfg := cfg.tlsConfig
	if cfg.trust != nil {
		if tlsCfg != nil {
			tlsCfg = tlsCfg.Clone()
		} else {
			tlsCfg = &tls.Config{}
		}
		// Stock verification is off; the trust manager's VerifyConnection
		// is the only check.
		tlsCfg.InsecureSkipVerify = true //nolint:gosec // verification happens in VerifyConnection
		tlsCfg.VerifyConnection = cfg.trust.VerifyConnection
	}

	transport := &http.Transport{
		DialContext:            dialer.DialContext,
		MaxIdleConns:           hc.MaxIdleConns,
		MaxIdleConnsPerHost:    hc.MaxIdleConnsPerHost,
		MaxConnsPerHost:        hc.MaxConnsPerHost,
		IdleConnTimeout:        hc.IdleConnTimeout,
		TLSHandshakeTimeout:    hc.TLSHandshakeTimeout,
		ResponseHeaderTimeout:  hc.ResponseHeaderTimeout,
		ExpectContinueTimeout:  hc.ExpectContinueTimeout,
		DisableKeepAlives:      hc.DisableKeepAlives,
		DisableCompression:     hc.DisableCompression,
		WriteBufferSize:        hc.WriteBufferSize,
		ReadBufferSize:         hc.ReadBufferSize,
		MaxResponseHeaderBytes: hc.MaxResponseHeaderBytes,
		TLSClientConfig:        tlsCfg,
		ForceAttemptHTTP2:      hc.ForceHTTP2,
	}

	if cfg.proxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.proxyURL)
	} else if cfg.proxyFromEnvironment {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return transport
}

// Option configures a Session.
type Option func(*sessionConfig)

// WithConfig sets the HTTP transport configuration. Start from
// DefaultConfig(), HighThroughputConfig(), LowLatencyConfig(),
// LargeTransferConfig(), or ConservativeConfig().
func WithConfig(c Config) Option {
	return func(cfg *sessionConfig) { cfg.httpConfig = c }
}

// WithStartRequestsImmediately controls whether attaching a response
// handler resumes the request. Defaults to true; pass false to require an
// explicit Resume.
func WithStartRequestsImmediately(start bool) Option {
	return func(cfg *sessionConfig) { cfg.startImmediately = start }
}

// WithInterceptor installs the session-level interceptor. It adapts every
// outgoing attempt and votes on retries after the request-level
// interceptor. Compose multiple with NewInterceptor or
// ComposeInterceptors.
//
// Example:
//
//	session := httpsession.New(
//	    httpsession.WithInterceptor(httpsession.NewInterceptor(
//	        []httpsession.Adapter{httpsession.BearerTokenAdapter(token)},
//	        []httpsession.Retrier{httpsession.NewRetryPolicy(httpsession.DefaultRetryConfig())},
//	    )),
//	)
func WithInterceptor(i Interceptor) Option {
	return func(cfg *sessionConfig) { cfg.interceptor = i }
}

// WithEventMonitors registers monitors for request lifecycle events. May
// be repeated; all monitors receive all events.
//
// Example:
//
//	metrics, _ := httpsession.NewPrometheusMonitor(prometheus.DefaultRegisterer)
//	session := httpsession.New(
//	    httpsession.WithEventMonitors(metrics, httpsession.NewLoggingMonitor(logger)),
//	)
func WithEventMonitors(monitors ...*EventMonitor) Option {
	return func(cfg *sessionConfig) { cfg.monitors = append(cfg.monitors, monitors...) }
}

// WithRedirectPolicy sets the session-level redirect policy. Defaults to
// FollowRedirects. Individual requests override it with WithRedirector.
func WithRedirectPolicy(rd Redirector) Option {
	return func(cfg *sessionConfig) { cfg.redirector = rd }
}

// WithServerTrustManager pins certificate verification per host. The
// manager replaces stock TLS verification for every connection the
// session opens.
//
// Example:
//
//	manager := httpsession.NewServerTrustManager(true, map[string]httpsession.TrustEvaluator{
//	    "api.example.com": httpsession.PinnedKeysEvaluator{Fingerprints: []string{spki}},
//	})
//	session := httpsession.New(httpsession.WithServerTrustManager(manager))
func WithServerTrustManager(m *ServerTrustManager) Option {
	return func(cfg *sessionConfig) { cfg.trust = m }
}

// WithTLSConfig sets a custom TLS configuration, for client certificates
// or version constraints. A server trust manager still overrides the
// verification callbacks.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *sessionConfig) { cfg.tlsConfig = tlsCfg }
}

// WithProxyURL routes all requests through a fixed proxy, ignoring
// environment variables.
func WithProxyURL(proxyURL *url.URL) Option {
	return func(cfg *sessionConfig) {
		cfg.proxyURL = proxyURL
		cfg.proxyFromEnvironment = false
	}
}

// WithProxyFromEnvironment toggles HTTP_PROXY/HTTPS_PROXY/NO_PROXY
// handling. Defaults to true.
func WithProxyFromEnvironment(enabled bool) Option {
	return func(cfg *sessionConfig) { cfg.proxyFromEnvironment = enabled }
}

// WithDownloadTempDir stages in-progress downloads in dir instead of the
// system temporary directory. Put it on the same filesystem as download
// destinations to keep the final move a rename.
func WithDownloadTempDir(dir string) Option {
	return func(cfg *sessionConfig) { cfg.tempDir = dir }
}

// WithRequestCoalescing deduplicates identical concurrent GETs: one wire
// request runs and every caller shares its response.
func WithRequestCoalescing() Option {
	return func(cfg *sessionConfig) { cfg.coalesce = true }
}

// WithCircuitBreaker runs every exchange through a circuit breaker. While
// the circuit is open, requests fail immediately with ErrBreakerOpen.
// Give BreakerConfig a shared store from NewRedisStore to coordinate the
// circuit across instances.
func WithCircuitBreaker(breaker BreakerConfig) Option {
	return func(cfg *sessionConfig) { cfg.breaker = &breaker }
}

// WithChaos injects failures for resilience testing. Never enable in
// production.
//
// Example:
//
//	session := httpsession.New(httpsession.WithChaos(httpsession.ChaosConfig{
//	    LatencyMs: 200,
//	    ErrorRate: 0.1,
//	}))
func WithChaos(chaos ChaosConfig) Option {
	return func(cfg *sessionConfig) { cfg.chaos = &chaos }
}

// WithTransport replaces the built transport entirely. Chaos and
// coalescing wrappers still apply around it. Intended for tests and
// custom round trippers.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *sessionConfig) { cfg.transport = rt }
}

// WithDebugLog attaches a logging monitor that writes request lifecycle
// events at debug level.
func WithDebugLog() Option {
	return func(cfg *sessionConfig) { cfg.debug = true }
}
