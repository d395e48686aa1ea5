package httpsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"os"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Session owns a pool of requests and the HTTP client they run on. It
// serializes lifecycle work on a root queue and task events on a delegate
// queue, so request state never needs the caller's synchronization.
//
// A Session is safe for concurrent use. Create one per backend or
// credential domain and reuse it; each Session carries its own connection
// pool.
type Session struct {
	cfg      *sessionConfig
	client   *http.Client
	monitor  *compositeEventMonitor
	delegate *sessionDelegate

	rootQueue *SerialQueue

	baseCtx    context.Context
	cancelBase context.CancelCauseFunc

	taskSeq atomic.Int64

	mu          sync.Mutex
	requests    map[uuid.UUID]*Request
	invalidated bool
}

// New creates a session from the supplied options. The zero-option
// session uses DefaultConfig, starts requests when their first handler is
// attached, and follows up to ten redirects.
func New(opts ...Option) *Session {
	cfg := newSessionConfig(opts...)
	s := &Session{
		cfg:       cfg,
		rootQueue: NewSerialQueue(),
		requests:  make(map[uuid.UUID]*Request),
	}
	s.baseCtx, s.cancelBase = context.WithCancelCause(context.Background())

	monitors := cfg.monitors
	if cfg.debug {
		monitors = append(monitors, NewLoggingMonitor(debugLogger))
	}
	s.monitor = newCompositeEventMonitor(monitors...)
	s.delegate = newSessionDelegate(s, s.monitor)

	transport := cfg.transport
	if transport == nil {
		transport = cfg.buildTransport()
	}
	if cfg.chaos != nil {
		transport = newChaosTransport(transport, *cfg.chaos)
	}
	if cfg.breaker != nil {
		transport = newBreakerTransport(transport, *cfg.breaker)
	}
	if cfg.coalesce {
		transport = newCoalescingTransport(transport)
	}
	s.client = &http.Client{
		Transport:     transport,
		Timeout:       cfg.httpConfig.Timeout,
		CheckRedirect: s.delegate.checkRedirect,
	}
	return s
}

var (
	defaultSession     *Session
	defaultSessionOnce sync.Once
)

// Default is the shared zero-option session, built on first use. The
// package-level Get, Download, and Upload calls run on it. It is never
// invalidated; create a Session with New when custom configuration or a
// separate lifecycle is needed.
func Default() *Session {
	defaultSessionOnce.Do(func() { defaultSession = New() })
	return defaultSession
}

// Get issues a GET for url on the Default session.
func Get(url string, opts ...RequestOption) *DataRequest {
	return Default().Get(url, opts...)
}

// Download streams conv's response to dest on the Default session.
func Download(conv RequestConvertible, dest Destination, opts ...RequestOption) *DownloadRequest {
	return Default().Download(conv, dest, opts...)
}

// Upload sends up as conv's body on the Default session.
func Upload(up Uploadable, conv RequestConvertible, opts ...RequestOption) *UploadRequest {
	return Default().Upload(up, conv, opts...)
}

// Client is the underlying HTTP client. Mutating it while requests are in
// flight is not supported.
func (s *Session) Client() *http.Client { return s.client }

// CloseIdleConnections drops the connection pool's idle connections.
func (s *Session) CloseIdleConnections() { s.client.CloseIdleConnections() }

// ActiveRequestCount is the number of requests created and not yet
// finished.
func (s *Session) ActiveRequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Invalidated reports whether Invalidate has been called.
func (s *Session) Invalidated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

// Request creates a data request from conv. With the default
// configuration it starts when its first response handler is attached;
// call Resume to start it without one.
func (s *Session) Request(conv RequestConvertible, opts ...RequestOption) *DataRequest {
	r := s.register(newRequest(s, taskData, conv, opts...))
	return &DataRequest{Request: r}
}

// Get is shorthand for Request on a GET of url.
func (s *Session) Get(url string, opts ...RequestOption) *DataRequest {
	return s.Request(URLConvertible(url), opts...)
}

// Download creates a download request whose body streams to disk and
// lands at dest. A nil dest leaves the file at its temporary path.
func (s *Session) Download(conv RequestConvertible, dest Destination, opts ...RequestOption) *DownloadRequest {
	r := newRequest(s, taskDownload, conv, opts...)
	r.destination = dest
	return &DownloadRequest{Request: s.register(r)}
}

// DownloadResume continues a download from the blob produced by
// CancelProducingResumeData. The partial file must still exist; the
// server is asked for the remaining bytes with a Range request guarded by
// If-Range when the original response carried a validator.
func (s *Session) DownloadResume(resumeData []byte, dest Destination, opts ...RequestOption) *DownloadRequest {
	r := newRequest(s, taskDownload, nil, opts...)
	r.destination = dest
	r.resumeInput = resumeData
	return &DownloadRequest{Request: s.register(r)}
}

// Upload creates an upload request whose body comes from up, resolved
// fresh on every attempt.
func (s *Session) Upload(up Uploadable, conv RequestConvertible, opts ...RequestOption) *UploadRequest {
	r := newRequest(s, taskUpload, conv, opts...)
	r.upload = up
	return &UploadRequest{DataRequest: &DataRequest{Request: s.register(r)}}
}

// UploadMultipart posts form as a multipart/form-data body.
func (s *Session) UploadMultipart(form *MultipartForm, conv RequestConvertible, opts ...RequestOption) *UploadRequest {
	return s.Upload(form, conv, opts...)
}

// Invalidate rejects new requests and cancels every outstanding one with
// ErrSessionInvalidated. Idempotent.
func (s *Session) Invalidate() {
	s.mu.Lock()
	if s.invalidated {
		s.mu.Unlock()
		return
	}
	s.invalidated = true
	outstanding := make([]*Request, 0, len(s.requests))
	for _, r := range s.requests {
		outstanding = append(outstanding, r)
	}
	s.mu.Unlock()

	s.cancelBase(ErrSessionInvalidated)
	for _, r := range outstanding {
		r.cancelWithCause(ErrSessionInvalidated)
	}
}

// register tracks the request for invalidation and announces it. A
// request created after Invalidate is born failed: it finishes with
// ErrSessionInvalidated and never reaches the network.
func (s *Session) register(r *Request) *Request {
	s.mu.Lock()
	invalidated := s.invalidated
	if !invalidated {
		s.requests[r.id] = r
	}
	s.mu.Unlock()
	s.monitor.requestDidCreate(r)
	if invalidated {
		r.latchError(ErrSessionInvalidated)
		s.finishOnRootQueue(r)
	}
	return r
}

func (s *Session) forgetRequest(r *Request) {
	s.mu.Lock()
	delete(s.requests, r.id)
	s.mu.Unlock()
	s.delegate.taskMap.removeRequest(r)
}

func (s *Session) performOnRootQueue(r *Request) {
	s.rootQueue.Async(func() { s.perform(r) })
}

func (s *Session) finishOnRootQueue(r *Request) {
	s.rootQueue.Async(r.finish)
}

// perform launches one attempt: build the wire request, adapt it, bind a
// task, and let it run. Failures before the task exists go straight to the
// retry decision. Runs on the root queue.
func (s *Session) perform(r *Request) {
	if r.State().Terminal() {
		r.finish()
		return
	}

	wire, resume, err := s.buildWire(r)
	if err != nil {
		r.latchError(err)
		s.retryOrFinish(r)
		return
	}

	adapted, err := s.adapt(wire, r)
	if err != nil {
		r.latchError(&AdapterError{Err: err})
		s.retryOrFinish(r)
		return
	}
	wire = adapted

	if c := r.basicCredential(); c != nil {
		wire.SetBasicAuth(c.username, c.password)
	}

	if r.kind == taskUpload {
		if err := attachUploadBody(wire, r.upload); err != nil {
			r.latchError(&UploadableError{Err: err})
			s.retryOrFinish(r)
			return
		}
	}

	collector := newMetricsCollector()
	taskID := s.taskSeq.Add(1)
	ctx := context.WithValue(r.ctx, requestCtxKey{}, r)
	ctx = httptrace.WithClientTrace(ctx, collector.clientTrace())
	wire = wire.WithContext(ctx)

	r.setAttempt(wire, taskID)
	s.delegate.taskMap.insert(taskID, r)
	s.monitor.requestDidCreateTask(r, taskID)

	t := &task{
		id:      taskID,
		kind:    r.kind,
		attempt: r.RetryCount() + 1,
		wire:    wire,
		client:  s.client,
		sd:      s.delegate,
		pause:   r.pause,
		metrics: collector,
	}
	if r.kind == taskDownload {
		t.tempDir = s.cfg.tempDir
		t.resume = resume
		t.produceResume = &r.produceResume
	}
	go t.run()
}

// buildWire produces the attempt's wire request. Resumed downloads derive
// it from their blob; everything else converts fresh so byte-backed bodies
// replay on retry.
func (s *Session) buildWire(r *Request) (*http.Request, *resumeState, error) {
	if blob := r.resumeInput; len(blob) > 0 {
		state, err := decodeResumeState(blob)
		if err != nil {
			return nil, nil, &ResumeDataError{Err: err}
		}
		wire, err := http.NewRequest(http.MethodGet, state.URL, nil)
		if err != nil {
			return nil, nil, &ResumeDataError{Err: err}
		}
		wire.Header.Set("Range", fmt.Sprintf("bytes=%d-", state.Offset))
		if state.ETag != "" {
			wire.Header.Set("If-Range", state.ETag)
		} else if state.LastModified != "" {
			wire.Header.Set("If-Range", state.LastModified)
		}
		return wire, state, nil
	}
	if r.convertible == nil {
		return nil, nil, &BuildError{Err: errors.New("request has no wire request source")}
	}
	wire, err := r.convertible.WireRequest()
	if err != nil {
		return nil, nil, &BuildError{Err: err}
	}
	return wire, nil, nil
}

// decodeResumeState parses a resume blob and reconciles its offset with
// the partial file's current size, so a retried resume picks up from
// whatever is actually on disk.
func decodeResumeState(blob []byte) (*resumeState, error) {
	var state resumeState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, err
	}
	if state.URL == "" || state.TempPath == "" {
		return nil, errors.New("resume data missing url or temp path")
	}
	info, err := os.Stat(state.TempPath)
	if err != nil {
		return nil, err
	}
	state.Offset = info.Size()
	return &state, nil
}

// adapt runs the request-level then the session-level adapter chain.
func (s *Session) adapt(wire *http.Request, r *Request) (*http.Request, error) {
	out := wire
	for _, i := range []Interceptor{r.interceptor, s.cfg.interceptor} {
		if i == nil {
			continue
		}
		next, err := i.Adapt(out, s)
		if err != nil {
			return nil, err
		}
		if next != nil {
			out = next
		}
	}
	return out, nil
}

func attachUploadBody(wire *http.Request, up Uploadable) error {
	if up == nil {
		return errors.New("upload request has no body source")
	}
	body, length, ctype, err := up.Resolve()
	if err != nil {
		return err
	}
	wire.Body = body
	wire.ContentLength = length
	wire.GetBody = func() (io.ReadCloser, error) {
		b, _, _, err := up.Resolve()
		return b, err
	}
	if ctype != "" && wire.Header.Get("Content-Type") == "" {
		wire.Header.Set("Content-Type", ctype)
	}
	return nil
}

// retryOrFinish settles one attempt on the root queue. The request-level
// retrier is consulted before the session-level one and the first
// conclusive decision wins. Cancellation during deliberation
// short-circuits to finish.
func (s *Session) retryOrFinish(r *Request) {
	s.rootQueue.Async(func() {
		if r.State() == StateCancelled {
			r.finish()
			return
		}
		err := r.Err()
		if err == nil {
			r.finish()
			return
		}
		decision := s.consultRetriers(r, err)
		if r.State() == StateCancelled {
			r.finish()
			return
		}
		switch {
		case decision.WillRetry():
			s.scheduleRetry(r, decision.Delay())
		case decision.Err() != nil:
			r.setRetryFailure(decision.Err())
			r.finish()
		default:
			r.finish()
		}
	})
}

func (s *Session) consultRetriers(r *Request, err error) RetryDecision {
	for _, i := range []Interceptor{r.interceptor, s.cfg.interceptor} {
		if i == nil {
			continue
		}
		if d := i.ShouldRetry(r, s, err); d.conclusive() {
			return d
		}
	}
	return DoNotRetry()
}

// scheduleRetry re-enters the request after the delay. The retry counter
// advances before the event fires so monitors observe the new attempt
// number.
func (s *Session) scheduleRetry(r *Request, delay time.Duration) {
	r.prepareRetry()
	s.monitor.requestIsRetrying(r, r.RetryCount())
	if delay <= 0 {
		s.performRetry(r)
		return
	}
	timer := time.NewTimer(delay)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			s.rootQueue.Async(func() { s.performRetry(r) })
		case <-r.ctx.Done():
			s.finishOnRootQueue(r)
		}
	}()
}

func (s *Session) performRetry(r *Request) {
	if !r.resumeForRetry() {
		r.finish()
		return
	}
	s.perform(r)
}
