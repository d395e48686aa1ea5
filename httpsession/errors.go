package httpsession

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below wrap these where a category applies, so
// callers can branch with errors.Is without inspecting concrete types.
var (
	// ErrCancelled is the terminal error of a request cancelled by the
	// caller. Every handler attached to a cancelled request receives it.
	ErrCancelled = errors.New("httpsession: request cancelled")

	// ErrSessionInvalidated is delivered to every outstanding request when
	// its session is invalidated, and returned for requests created on an
	// invalidated session.
	ErrSessionInvalidated = errors.New("httpsession: session invalidated")

	// ErrValidationFailed is the category sentinel wrapped by ValidationError.
	ErrValidationFailed = errors.New("httpsession: validation failed")

	// ErrSerializationFailed is the category sentinel wrapped by
	// SerializationError.
	ErrSerializationFailed = errors.New("httpsession: serialization failed")

	// ErrRateLimited is returned by a RateLimitAdapter configured to reject
	// rather than wait when the local limiter has no capacity.
	ErrRateLimited = errors.New("httpsession: rate limit exceeded")

	// ErrBreakerOpen is returned by a session with WithCircuitBreaker while
	// the circuit rejects traffic.
	ErrBreakerOpen = errors.New("httpsession: circuit breaker open")
)

// BuildError reports that the wire request could not be constructed from the
// request's convertible. No task is created.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("httpsession: building wire request: %v", e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// AdapterError reports that an adapter rejected or failed to transform the
// wire request. No task is created.
type AdapterError struct {
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("httpsession: adapting request: %v", e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// UploadableError reports that an upload body could not be resolved (file
// open failure, multipart build failure). No task is created.
type UploadableError struct {
	Err error
}

func (e *UploadableError) Error() string {
	return fmt.Sprintf("httpsession: resolving upload body: %v", e.Err)
}

func (e *UploadableError) Unwrap() error { return e.Err }

// ResumeDataError reports that a resume blob handed to DownloadResume could
// not be decoded or no longer matches its partial file.
type ResumeDataError struct {
	Err error
}

func (e *ResumeDataError) Error() string {
	return fmt.Sprintf("httpsession: invalid resume data: %v", e.Err)
}

func (e *ResumeDataError) Unwrap() error { return e.Err }

// ValidationReason identifies why response validation rejected a response.
type ValidationReason int

const (
	// ReasonUnacceptableStatusCode: the status code is outside the accepted
	// set.
	ReasonUnacceptableStatusCode ValidationReason = iota
	// ReasonUnacceptableContentType: the response Content-Type matches none
	// of the accepted types.
	ReasonUnacceptableContentType
	// ReasonMissingContentType: the response carries no Content-Type and the
	// accepted set has no wildcard.
	ReasonMissingContentType
)

// ValidationError is produced by the built-in validators. It wraps
// ErrValidationFailed.
type ValidationError struct {
	Reason      ValidationReason
	StatusCode  int
	ContentType string
	Acceptable  []string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonUnacceptableStatusCode:
		return fmt.Sprintf("validation failed: unacceptable status code %d", e.StatusCode)
	case ReasonUnacceptableContentType:
		return fmt.Sprintf("validation failed: unacceptable content type %q (accepted: %s)",
			e.ContentType, strings.Join(e.Acceptable, ", "))
	case ReasonMissingContentType:
		return fmt.Sprintf("validation failed: missing content type (accepted: %s)",
			strings.Join(e.Acceptable, ", "))
	default:
		return "validation failed"
	}
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// SerializationReason identifies why a response serializer failed.
type SerializationReason int

const (
	// ReasonEmptyDataNotAllowed: the response body was empty and neither the
	// status code nor the request method permits an empty body.
	ReasonEmptyDataNotAllowed SerializationReason = iota
	// ReasonDecodeFailed: the body could not be decoded into the target type.
	ReasonDecodeFailed
	// ReasonInvalidTextEncoding: the body is not valid text in the expected
	// encoding.
	ReasonInvalidTextEncoding
	// ReasonFileMissing: a download serializer found no file at the final
	// location.
	ReasonFileMissing
)

// SerializationError is produced by response serializers. It wraps
// ErrSerializationFailed and, when a decode error exists, that error too.
type SerializationError struct {
	Reason SerializationReason
	Err    error
}

func (e *SerializationError) Error() string {
	switch e.Reason {
	case ReasonEmptyDataNotAllowed:
		return "serialization failed: empty response body not allowed"
	case ReasonDecodeFailed:
		return fmt.Sprintf("serialization failed: decoding response: %v", e.Err)
	case ReasonInvalidTextEncoding:
		return "serialization failed: response is not valid UTF-8"
	case ReasonFileMissing:
		return fmt.Sprintf("serialization failed: downloaded file missing: %v", e.Err)
	default:
		return "serialization failed"
	}
}

func (e *SerializationError) Unwrap() error { return ErrSerializationFailed }

// Is reports true for ErrSerializationFailed and for the wrapped decode
// error, if any.
func (e *SerializationError) Is(target error) bool {
	if target == ErrSerializationFailed {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// DestinationError reports a filesystem failure while moving a finished
// download to its destination.
type DestinationError struct {
	Path string
	Err  error
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("httpsession: moving download to %s: %v", e.Path, e.Err)
}

func (e *DestinationError) Unwrap() error { return e.Err }

// ChecksumError reports that a finished download failed its configured
// checksum verification.
type ChecksumError struct {
	Path string
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("httpsession: checksum mismatch for %s: want %s, got %s", e.Path, e.Want, e.Got)
}

// RetryFailedError is the terminal error of a request whose retrier returned
// its own error while declining to retry. The original attempt error is
// preserved alongside it.
type RetryFailedError struct {
	RetryErr    error
	OriginalErr error
}

func (e *RetryFailedError) Error() string {
	return fmt.Sprintf("httpsession: retry failed: %v (original error: %v)", e.RetryErr, e.OriginalErr)
}

// Unwrap returns both the retrier's error and the original error, so
// errors.Is matches either.
func (e *RetryFailedError) Unwrap() []error {
	return []error{e.RetryErr, e.OriginalErr}
}
