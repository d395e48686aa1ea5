package httpsession

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// boundValidator is a validator closed over the payload it inspects. The
// variant attach methods bind the body bytes or the downloaded file path
// at run time.
type boundValidator func(wire *http.Request, resp *http.Response) error

// Request is the session-owned handle for one logical HTTP exchange. It
// survives retries: each attempt gets a fresh task and wire request while
// identity, validators, and response handlers carry across.
//
// A request moves initialized -> resumed, may bounce resumed <-> suspended,
// and ends in cancelled or finished. Cancellation wins from any live state;
// terminal states never transition again.
type Request struct {
	id          uuid.UUID
	kind        taskKind
	session     *Session
	convertible RequestConvertible
	createdAt   time.Time

	ctx       context.Context
	cancelCtx context.CancelCauseFunc
	pause     *pauseGate
	finished  *gate

	// serializeQueue runs response handler serialization one at a time in
	// attachment order.
	serializeQueue *SerialQueue

	interceptor Interceptor
	redirector  Redirector

	mu              sync.Mutex
	credential      *credential
	state           State
	retryCount      int
	err             error
	lastRequest     *http.Request
	response        *http.Response
	metrics         *Metrics
	delegate        *taskDelegate
	taskID          int64
	validators      []boundValidator
	pendingHandlers []func()
	finishEmitted   bool

	// Body accumulation (data and upload kinds).
	data []byte

	// Upload state.
	upload         Uploadable
	uploadProgress ProgressHandler

	// Download state.
	destination      Destination
	downloadProgress ProgressHandler
	checksum         string
	resumeInput      []byte
	resumeOutput     []byte
	filePath         string
	bytesWritten     int64
	produceResume    atomic.Bool
}

// RequestOption configures a single request at creation.
type RequestOption func(*Request)

// WithRequestInterceptor adapts and retries this request only. It runs
// before the session-level interceptor.
func WithRequestInterceptor(i Interceptor) RequestOption {
	return func(r *Request) { r.interceptor = i }
}

// WithRedirector overrides the session's redirect policy for this request.
func WithRedirector(rd Redirector) RequestOption {
	return func(r *Request) { r.redirector = rd }
}

// WithBasicAuth attaches HTTP basic credentials to every attempt.
func WithBasicAuth(username, password string) RequestOption {
	return func(r *Request) { r.credential = &credential{username: username, password: password} }
}

type credential struct {
	username string
	password string
}

// Authenticate attaches HTTP basic credentials, applied to every attempt
// adapted after the call. Equivalent to the WithBasicAuth option.
func (r *Request) Authenticate(username, password string) *Request {
	r.mu.Lock()
	r.credential = &credential{username: username, password: password}
	r.mu.Unlock()
	return r
}

func (r *Request) basicCredential() *credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.credential
}

func newRequest(s *Session, kind taskKind, conv RequestConvertible, opts ...RequestOption) *Request {
	ctx, cancel := context.WithCancelCause(s.baseCtx)
	r := &Request{
		id:             uuid.New(),
		kind:           kind,
		session:        s,
		convertible:    conv,
		createdAt:      time.Now(),
		ctx:            ctx,
		cancelCtx:      cancel,
		pause:          newPauseGate(false),
		finished:       newGate(),
		serializeQueue: NewSerialQueue(),
		state:          StateInitialized,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID is the stable identity of this request across all of its attempts.
func (r *Request) ID() uuid.UUID { return r.id }

// CreatedAt is when the request was created, before any attempt ran.
func (r *Request) CreatedAt() time.Time { return r.createdAt }

// Context is cancelled with a cause when the request is cancelled or its
// session invalidated.
func (r *Request) Context() context.Context { return r.ctx }

// Done is closed once the request reaches a terminal state and its error,
// response, and metrics are settled. Response handlers may still be
// draining when it closes.
func (r *Request) Done() <-chan struct{} { return r.finished.ch }

// State reports the current lifecycle state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err is the request's latched error, nil while no attempt has failed.
// The first error wins; later failures in the same lifecycle do not
// overwrite it.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Response is the last attempt's response, nil before one arrives.
func (r *Request) Response() *http.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

// LastRequest is the wire request of the most recent attempt, after
// adaptation.
func (r *Request) LastRequest() *http.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRequest
}

// Metrics is the timing breakdown of the most recent attempt, nil until
// one completes.
func (r *Request) Metrics() *Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

// RetryCount is the number of retries performed so far. The first attempt
// is not a retry.
func (r *Request) RetryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryCount
}

// Resume starts or restarts work. From initialized it creates the
// attempt's task; from suspended it unblocks the in-flight transfer.
// Resuming a terminal or already resumed request is a no-op.
func (r *Request) Resume() {
	r.mu.Lock()
	if !r.state.canTransition(StateResumed) {
		r.mu.Unlock()
		return
	}
	from := r.state
	r.state = StateResumed
	r.mu.Unlock()
	r.session.monitor.requestDidResume(r)
	r.pause.resume()
	if from == StateInitialized {
		r.session.performOnRootQueue(r)
	}
}

// Suspend pauses an in-flight transfer without discarding it. Only a
// resumed request suspends; everything else is a no-op.
func (r *Request) Suspend() {
	r.mu.Lock()
	if !r.state.canTransition(StateSuspended) {
		r.mu.Unlock()
		return
	}
	r.state = StateSuspended
	r.mu.Unlock()
	r.pause.suspend()
	r.session.monitor.requestDidSuspend(r)
}

// Cancel aborts the request from any live state and latches ErrCancelled.
// Attached and future response handlers still run, with the cancellation
// as their cause. Cancelling twice is a no-op.
func (r *Request) Cancel() {
	r.cancelWithCause(ErrCancelled)
}

func (r *Request) cancelWithCause(cause error) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state = StateCancelled
	if r.err == nil {
		r.err = cause
	}
	hasTask := r.taskID != 0
	r.mu.Unlock()
	r.session.monitor.requestDidCancel(r)
	r.pause.resume()
	r.cancelCtx(cause)
	if !hasTask {
		r.session.finishOnRootQueue(r)
	}
}

// autoResume starts the request on handler attachment when the session is
// configured to start requests immediately.
func (r *Request) autoResume() {
	if r.session.cfg.startImmediately {
		r.Resume()
	}
}

// resumeForRetry silently re-enters the resumed state for the next
// attempt. Returns false when the request was cancelled during the retry
// delay.
func (r *Request) resumeForRetry() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateInitialized {
		return false
	}
	r.state = StateResumed
	return true
}

// prepareRetry resets per-attempt state. Identity, validators, handlers,
// and options survive; the error, response, metrics, and accumulated body
// do not.
func (r *Request) prepareRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateInitialized
	r.retryCount++
	r.err = nil
	r.response = nil
	r.metrics = nil
	r.delegate = nil
	r.taskID = 0
	r.data = nil
	r.bytesWritten = 0
}

// setAttempt binds a new attempt's wire request and task, building the
// delegate that will receive its events.
func (r *Request) setAttempt(wire *http.Request, taskID int64) *taskDelegate {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRequest = wire
	r.taskID = taskID
	r.delegate = r.buildDelegate(taskID)
	return r.delegate
}

func (r *Request) currentDelegate() *taskDelegate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delegate
}

func (r *Request) setMetrics(m *Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// latchError records err as the request's error unless one is already
// latched.
func (r *Request) latchError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// setRetryFailure replaces the latched error with a wrapper that carries
// both the retrier's error and the original attempt error.
func (r *Request) setRetryFailure(retryErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = &RetryFailedError{RetryErr: retryErr, OriginalErr: r.err}
}

func (r *Request) appendValidator(v boundValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators = append(r.validators, v)
}

// attemptDidComplete settles one attempt: it stores the outcome, runs all
// validators in attachment order when the attempt produced a response
// without error, and hands the request to the session for the retry
// decision. Every validator runs even after one fails; the first failure
// latches. Runs on the session delegate queue.
func (r *Request) attemptDidComplete(resp *http.Response, err error) {
	r.mu.Lock()
	r.response = resp
	if err != nil && r.err == nil {
		r.err = err
	}
	attemptErr := r.err
	wire := r.lastRequest
	validators := r.validators
	cancelled := r.state == StateCancelled
	r.taskID = 0
	r.delegate = nil
	r.mu.Unlock()

	if attemptErr == nil && resp != nil && !cancelled {
		for _, v := range validators {
			verr := v(wire, resp)
			r.session.monitor.requestDidValidate(r, resp, verr)
			if verr != nil {
				r.latchError(verr)
			}
		}
	}
	r.session.retryOrFinish(r)
}

// finish completes the request exactly once: terminal state, finish
// event, gate open, handler drain. Safe to call from any goroutine; only
// the first call does anything.
func (r *Request) finish() {
	r.mu.Lock()
	if r.finishEmitted {
		r.mu.Unlock()
		return
	}
	r.finishEmitted = true
	if r.state != StateCancelled {
		r.state = StateFinished
	}
	pending := r.pendingHandlers
	r.pendingHandlers = nil
	r.mu.Unlock()

	r.session.monitor.requestDidFinish(r)
	r.session.forgetRequest(r)
	r.finished.open()
	for _, run := range pending {
		r.serializeQueue.Async(run)
	}
}

// appendHandler registers a response handler's serialization run. Before
// the request finishes, runs accumulate in attachment order and drain when
// it does; afterwards each run is queued immediately. Either way every run
// executes exactly once on the serialization queue.
func (r *Request) appendHandler(run func()) {
	r.mu.Lock()
	if !r.finishEmitted {
		r.pendingHandlers = append(r.pendingHandlers, run)
		r.mu.Unlock()
		r.autoResume()
		return
	}
	r.mu.Unlock()
	r.serializeQueue.Async(run)
}

// attemptSnapshot captures the settled outcome for a data serializer.
func (r *Request) attemptSnapshot() (wire *http.Request, resp *http.Response, data []byte, metrics *Metrics, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRequest, r.response, r.data, r.metrics, r.err
}

// downloadSnapshot captures the settled outcome for a download serializer.
func (r *Request) downloadSnapshot() (wire *http.Request, resp *http.Response, filePath string, resumeData []byte, metrics *Metrics, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRequest, r.response, r.filePath, r.resumeOutput, r.metrics, r.err
}

// Delegate event handlers. All run on the session delegate queue.

func (r *Request) appendData(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, chunk...)
}

func (r *Request) recordSentBodyData(bytesSent, totalSent, totalExpected int64) {
	r.mu.Lock()
	fn := r.uploadProgress
	r.mu.Unlock()
	if fn != nil {
		fn(Progress{Completed: totalSent, Total: totalExpected})
	}
}

func (r *Request) recordWrittenData(bytesWritten, totalWritten, totalExpected int64) {
	r.mu.Lock()
	r.bytesWritten = totalWritten
	fn := r.downloadProgress
	r.mu.Unlock()
	if fn != nil {
		fn(Progress{Completed: totalWritten, Total: totalExpected})
	}
}

func (r *Request) recordResumeOffset(offset, totalExpected int64) {
	r.mu.Lock()
	r.bytesWritten = offset
	fn := r.downloadProgress
	r.mu.Unlock()
	if fn != nil {
		fn(Progress{Completed: offset, Total: totalExpected})
	}
}

func (r *Request) recordResumeData(blob []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumeOutput = blob
}

// downloadDidFinish moves the completed temporary file to its destination
// and verifies the checksum when one was requested. Failures latch on the
// request; the file stays where the failure left it.
func (r *Request) downloadDidFinish(tempPath string, resp *http.Response) {
	r.mu.Lock()
	dest := r.destination
	want := r.checksum
	r.mu.Unlock()

	finalPath := tempPath
	if dest != nil {
		path, opts := dest(resp, tempPath)
		if path != "" && path != tempPath {
			if err := moveFile(tempPath, path, opts); err != nil {
				r.latchError(&DestinationError{Path: path, Err: err})
				r.setFilePath(tempPath)
				return
			}
			finalPath = path
		}
	}
	if want != "" {
		got, err := fileSHA256(finalPath)
		switch {
		case err != nil:
			r.latchError(err)
		case !strings.EqualFold(got, want):
			r.latchError(&ChecksumError{Path: finalPath, Want: want, Got: got})
		}
	}
	r.setFilePath(finalPath)
}

func (r *Request) setFilePath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filePath = path
}
