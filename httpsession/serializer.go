package httpsession

import (
	"net/http"
	"os"
	"slices"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

// DataSerializer converts a completed attempt's raw body into a typed value.
//
// The serializer receives the attempt's error as cause. The provided
// serializers propagate a non-nil cause untouched; a custom serializer may
// instead recover and produce a fallback value.
type DataSerializer[T any] interface {
	SerializeData(req *http.Request, resp *http.Response, data []byte, cause error) (T, error)
}

// DataSerializerFunc adapts a function to a DataSerializer.
type DataSerializerFunc[T any] func(req *http.Request, resp *http.Response, data []byte, cause error) (T, error)

// SerializeData implements DataSerializer.
func (f DataSerializerFunc[T]) SerializeData(req *http.Request, resp *http.Response, data []byte, cause error) (T, error) {
	return f(req, resp, data, cause)
}

// DownloadSerializer converts a completed download's file into a typed value.
type DownloadSerializer[T any] interface {
	SerializeDownload(req *http.Request, resp *http.Response, filePath string, cause error) (T, error)
}

// DownloadSerializerFunc adapts a function to a DownloadSerializer.
type DownloadSerializerFunc[T any] func(req *http.Request, resp *http.Response, filePath string, cause error) (T, error)

// SerializeDownload implements DownloadSerializer.
func (f DownloadSerializerFunc[T]) SerializeDownload(req *http.Request, resp *http.Response, filePath string, cause error) (T, error) {
	return f(req, resp, filePath, cause)
}

// defaultEmptyResponseCodes are the status codes whose responses may carry no
// body without failing serialization.
var defaultEmptyResponseCodes = []int{http.StatusNoContent, http.StatusResetContent}

// defaultEmptyRequestMethods are the request methods whose responses may
// carry no body without failing serialization.
var defaultEmptyRequestMethods = []string{http.MethodHead}

// emptyResponseAllowed reports whether an empty body is acceptable for the
// request method or response status. Nil overrides fall back to the package
// defaults.
func emptyResponseAllowed(req *http.Request, resp *http.Response, codes []int, methods []string) bool {
	if codes == nil {
		codes = defaultEmptyResponseCodes
	}
	if methods == nil {
		methods = defaultEmptyRequestMethods
	}
	if req != nil && slices.Contains(methods, req.Method) {
		return true
	}
	return resp != nil && slices.Contains(codes, resp.StatusCode)
}

// BytesSerializer yields the raw response body.
type BytesSerializer struct {
	// EmptyResponseCodes overrides the status codes for which an empty body
	// is acceptable. Nil means 204 and 205.
	EmptyResponseCodes []int
	// EmptyRequestMethods overrides the request methods for which an empty
	// body is acceptable. Nil means HEAD.
	EmptyRequestMethods []string
}

// SerializeData implements DataSerializer.
func (s BytesSerializer) SerializeData(req *http.Request, resp *http.Response, data []byte, cause error) ([]byte, error) {
	if cause != nil {
		return nil, cause
	}
	if len(data) == 0 {
		if !emptyResponseAllowed(req, resp, s.EmptyResponseCodes, s.EmptyRequestMethods) {
			return nil, &SerializationError{Reason: ReasonEmptyDataNotAllowed}
		}
		return []byte{}, nil
	}
	return data, nil
}

// StringSerializer yields the response body as a UTF-8 string.
type StringSerializer struct {
	EmptyResponseCodes  []int
	EmptyRequestMethods []string
}

// SerializeData implements DataSerializer.
func (s StringSerializer) SerializeData(req *http.Request, resp *http.Response, data []byte, cause error) (string, error) {
	if cause != nil {
		return "", cause
	}
	if len(data) == 0 {
		if !emptyResponseAllowed(req, resp, s.EmptyResponseCodes, s.EmptyRequestMethods) {
			return "", &SerializationError{Reason: ReasonEmptyDataNotAllowed}
		}
		return "", nil
	}
	if !utf8.Valid(data) {
		return "", &SerializationError{Reason: ReasonInvalidTextEncoding}
	}
	return string(data), nil
}

// JSONSerializer decodes the response body into an untyped value (map, slice,
// string, number, bool, or nil).
type JSONSerializer struct {
	EmptyResponseCodes  []int
	EmptyRequestMethods []string
}

// SerializeData implements DataSerializer.
func (s JSONSerializer) SerializeData(req *http.Request, resp *http.Response, data []byte, cause error) (any, error) {
	if cause != nil {
		return nil, cause
	}
	if len(data) == 0 {
		if !emptyResponseAllowed(req, resp, s.EmptyResponseCodes, s.EmptyRequestMethods) {
			return nil, &SerializationError{Reason: ReasonEmptyDataNotAllowed}
		}
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &SerializationError{Reason: ReasonDecodeFailed, Err: err}
	}
	return v, nil
}

// structValidator checks decoded values against their validate tags.
var structValidator = validator.New()

// DecodableSerializer decodes the response body into T via JSON.
//
// With Validate set, the decoded value is additionally checked against its
// validate struct tags:
//
//	type User struct {
//	    Name  string `json:"name" validate:"required"`
//	    Email string `json:"email" validate:"required,email"`
//	}
//
//	httpsession.ResponseDecodable(req, httpsession.DecodableSerializer[User]{Validate: true}, handler)
type DecodableSerializer[T any] struct {
	EmptyResponseCodes  []int
	EmptyRequestMethods []string
	// Validate runs struct tag validation on the decoded value.
	Validate bool
}

// SerializeData implements DataSerializer.
func (s DecodableSerializer[T]) SerializeData(req *http.Request, resp *http.Response, data []byte, cause error) (T, error) {
	var zero T
	if cause != nil {
		return zero, cause
	}
	if len(data) == 0 {
		if !emptyResponseAllowed(req, resp, s.EmptyResponseCodes, s.EmptyRequestMethods) {
			return zero, &SerializationError{Reason: ReasonEmptyDataNotAllowed}
		}
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, &SerializationError{Reason: ReasonDecodeFailed, Err: err}
	}
	if s.Validate {
		if err := structValidator.Struct(v); err != nil {
			return zero, &SerializationError{Reason: ReasonDecodeFailed, Err: err}
		}
	}
	return v, nil
}

// FilePathSerializer yields the downloaded file's path.
type FilePathSerializer struct{}

// SerializeDownload implements DownloadSerializer.
func (FilePathSerializer) SerializeDownload(_ *http.Request, _ *http.Response, filePath string, cause error) (string, error) {
	if cause != nil {
		return "", cause
	}
	if filePath == "" {
		return "", &SerializationError{Reason: ReasonFileMissing}
	}
	return filePath, nil
}

// DownloadSerializerFrom lifts a DataSerializer into a DownloadSerializer by
// reading the downloaded file and serializing its contents. A download
// serialized this way yields exactly what the same data serializer would
// yield for an in-memory body.
func DownloadSerializerFrom[T any](inner DataSerializer[T]) DownloadSerializer[T] {
	return downloadDataSerializer[T]{inner: inner}
}

type downloadDataSerializer[T any] struct {
	inner DataSerializer[T]
}

func (d downloadDataSerializer[T]) SerializeDownload(req *http.Request, resp *http.Response, filePath string, cause error) (T, error) {
	var zero T
	if cause != nil {
		return zero, cause
	}
	if filePath == "" {
		return zero, &SerializationError{Reason: ReasonFileMissing}
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return zero, &SerializationError{Reason: ReasonFileMissing, Err: err}
	}
	return d.inner.SerializeData(req, resp, data, nil)
}
