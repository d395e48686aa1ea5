package httpsession

import "net/http"

// DataRequest accumulates its response body in memory and serializes it
// for attached handlers.
type DataRequest struct {
	*Request
}

// UploadRequest is a data request whose body comes from an Uploadable,
// re-resolved on every attempt, with upload progress reporting.
type UploadRequest struct {
	*DataRequest
}

// HandlerOption configures delivery of one response handler.
type HandlerOption func(*handlerConfig)

// WithQueue delivers the handler on q instead of calling it inline on the
// serialization goroutine.
func WithQueue(q DispatchQueue) HandlerOption {
	return func(cfg *handlerConfig) { cfg.queue = q }
}

type handlerConfig struct {
	queue DispatchQueue
}

func newHandlerConfig(opts []HandlerOption) handlerConfig {
	var cfg handlerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// dispatch hands the delivery to the configured queue, or runs it inline.
// Either way the hand-off completes before the next serializer runs.
func (cfg handlerConfig) dispatch(deliver func()) {
	if cfg.queue != nil {
		cfg.queue.Async(deliver)
		return
	}
	deliver()
}

func (r *Request) dataSnapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data
}

// Data is the accumulated response body. Stable once the request
// finishes.
func (r *DataRequest) Data() []byte { return r.dataSnapshot() }

// Validate applies the default validation: a 2xx status and a content
// type the request's Accept header allows.
func (r *DataRequest) Validate() *DataRequest {
	return r.ValidateWith(defaultValidation)
}

// ValidateWith appends validators that run in attachment order against
// each finished attempt. Every validator runs even after one fails; the
// first failure becomes the request's error.
func (r *DataRequest) ValidateWith(fns ...ValidationFunc) *DataRequest {
	for _, fn := range fns {
		r.appendValidator(func(wire *http.Request, resp *http.Response) error {
			return fn(wire, resp, r.dataSnapshot())
		})
	}
	return r
}

// ResponseData delivers the raw body bytes.
func (r *DataRequest) ResponseData(handler func(DataResponse[[]byte]), opts ...HandlerOption) *DataRequest {
	return ResponseDecodable(r, BytesSerializer{}, handler, opts...)
}

// ResponseString delivers the body decoded as UTF-8 text.
func (r *DataRequest) ResponseString(handler func(DataResponse[string]), opts ...HandlerOption) *DataRequest {
	return ResponseDecodable(r, StringSerializer{}, handler, opts...)
}

// ResponseJSON delivers the body decoded into generic JSON values.
func (r *DataRequest) ResponseJSON(handler func(DataResponse[any]), opts ...HandlerOption) *DataRequest {
	return ResponseDecodable(r, JSONSerializer{}, handler, opts...)
}

// ResponseDecodable attaches a response handler backed by an arbitrary
// serializer. Handlers run exactly once each, in attachment order, after
// the request finishes; attaching to an already finished request runs the
// handler with the settled outcome. When the request failed, the
// serializer receives the error as its cause and decides what to
// propagate.
func ResponseDecodable[T any](r *DataRequest, serializer DataSerializer[T], handler func(DataResponse[T]), opts ...HandlerOption) *DataRequest {
	cfg := newHandlerConfig(opts)
	r.appendHandler(func() {
		wire, resp, data, metrics, cause := r.attemptSnapshot()
		value, err := serializer.SerializeData(wire, resp, data, cause)
		r.session.monitor.requestDidSerializeResponse(r.Request, err)
		result := DataResponse[T]{
			Request:  wire,
			Response: resp,
			Data:     data,
			Metrics:  metrics,
			Value:    value,
			Err:      err,
		}
		cfg.dispatch(func() { handler(result) })
	})
	return r
}

// UploadProgress registers a callback for request body progress. The
// callback runs on the session delegate queue; keep it brief.
func (r *UploadRequest) UploadProgress(fn ProgressHandler) *UploadRequest {
	r.mu.Lock()
	r.uploadProgress = fn
	r.mu.Unlock()
	return r
}
