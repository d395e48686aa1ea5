package httpsession

import "net/http"

// DataResponse is the envelope a data response handler receives. It carries
// the final attempt's wire request and response, the accumulated body, the
// serialized value, and the request's latched error.
//
// Example:
//
//	req.ResponseString(func(resp httpsession.DataResponse[string]) {
//	    body, err := resp.Result()
//	    ...
//	})
type DataResponse[T any] struct {
	// Request is the last attempt's wire request, when one was built.
	Request *http.Request
	// Response is the last HTTP response received, when any.
	Response *http.Response
	// Data is the accumulated response body.
	Data []byte
	// Metrics holds timing and transfer figures for the request.
	Metrics *Metrics
	// Value is the serialized result. Meaningful only when Err is nil.
	Value T
	// Err is the request's first error, or the failure the serializer
	// produced for this handler.
	Err error
}

// Result returns the serialized value and error as a pair.
func (r DataResponse[T]) Result() (T, error) {
	return r.Value, r.Err
}

// StatusCode returns the response status code, or 0 when no response
// arrived.
func (r DataResponse[T]) StatusCode() int {
	if r.Response == nil {
		return 0
	}
	return r.Response.StatusCode
}

// DownloadResponse is the envelope a download response handler receives. The
// body lives on disk at FilePath instead of in memory.
type DownloadResponse[T any] struct {
	// Request is the last attempt's wire request, when one was built.
	Request *http.Request
	// Response is the last HTTP response received, when any.
	Response *http.Response
	// FilePath is where the downloaded file ended up. Empty when the
	// download never produced a file.
	FilePath string
	// ResumeData is the opaque blob a cancelled download produced, usable
	// to resume the transfer later. Nil otherwise.
	ResumeData []byte
	// Metrics holds timing and transfer figures for the request.
	Metrics *Metrics
	// Value is the serialized result. Meaningful only when Err is nil.
	Value T
	// Err is the request's first error, or the failure the serializer
	// produced for this handler.
	Err error
}

// Result returns the serialized value and error as a pair.
func (r DownloadResponse[T]) Result() (T, error) {
	return r.Value, r.Err
}

// StatusCode returns the response status code, or 0 when no response
// arrived.
func (r DownloadResponse[T]) StatusCode() int {
	if r.Response == nil {
		return 0
	}
	return r.Response.StatusCode
}
