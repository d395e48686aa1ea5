package httpsession

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapping(t *testing.T) {
	t.Run("given a build error, then the underlying cause unwraps", func(t *testing.T) {
		cause := errors.New("bad URL")
		err := &BuildError{Err: cause}

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "building wire request")
	})

	t.Run("given an adapter error, then the underlying cause unwraps", func(t *testing.T) {
		cause := errors.New("no token")
		err := &AdapterError{Err: cause}

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "adapting request")
	})

	t.Run("given an uploadable error, then the underlying cause unwraps", func(t *testing.T) {
		cause := errors.New("file vanished")
		err := &UploadableError{Err: cause}

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "resolving upload body")
	})

	t.Run("given a resume data error, then the underlying cause unwraps", func(t *testing.T) {
		cause := errors.New("truncated blob")
		err := &ResumeDataError{Err: cause}

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "invalid resume data")
	})

	t.Run("given a destination error, then the path and cause are reported", func(t *testing.T) {
		cause := errors.New("permission denied")
		err := &DestinationError{Path: "/var/data/report.csv", Err: cause}

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "/var/data/report.csv")
	})
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "given an unacceptable status code, then the message names it",
			err:  &ValidationError{Reason: ReasonUnacceptableStatusCode, StatusCode: 404},
			want: "validation failed: unacceptable status code 404",
		},
		{
			name: "given an unacceptable content type, then the message lists accepted types",
			err:  &ValidationError{Reason: ReasonUnacceptableContentType, ContentType: "text/html", Acceptable: []string{"application/json", "application/xml"}},
			want: `validation failed: unacceptable content type "text/html" (accepted: application/json, application/xml)`,
		},
		{
			name: "given a missing content type, then the message lists accepted types",
			err:  &ValidationError{Reason: ReasonMissingContentType, Acceptable: []string{"application/json"}},
			want: "validation failed: missing content type (accepted: application/json)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.ErrorIs(t, tt.err, ErrValidationFailed)
		})
	}
}

func TestSerializationError(t *testing.T) {
	t.Run("given any serialization error, then the category sentinel matches", func(t *testing.T) {
		err := &SerializationError{Reason: ReasonEmptyDataNotAllowed}
		assert.ErrorIs(t, err, ErrSerializationFailed)
	})

	t.Run("given a wrapped decode error, then it matches alongside the sentinel", func(t *testing.T) {
		cause := errors.New("unexpected end of input")
		err := &SerializationError{Reason: ReasonDecodeFailed, Err: cause}

		assert.ErrorIs(t, err, ErrSerializationFailed)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("given no wrapped error, then unrelated targets do not match", func(t *testing.T) {
		err := &SerializationError{Reason: ReasonInvalidTextEncoding}
		assert.NotErrorIs(t, err, ErrValidationFailed)
	})
}

func TestChecksumError(t *testing.T) {
	t.Run("given mismatched digests, then the message carries both", func(t *testing.T) {
		err := &ChecksumError{Path: "/tmp/blob", Want: "aaaa", Got: "bbbb"}
		assert.Equal(t, "httpsession: checksum mismatch for /tmp/blob: want aaaa, got bbbb", err.Error())
	})
}

func TestRetryFailedError(t *testing.T) {
	t.Run("given a retrier error, then both errors match through Unwrap", func(t *testing.T) {
		original := errors.New("503 from upstream")
		retryErr := errors.New("token refresh failed")
		err := &RetryFailedError{RetryErr: retryErr, OriginalErr: original}

		assert.ErrorIs(t, err, original)
		assert.ErrorIs(t, err, retryErr)
		assert.Contains(t, err.Error(), "retry failed")
		assert.Contains(t, err.Error(), "original error")
	})
}
