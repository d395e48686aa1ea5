package httpsession

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryAfter(t *testing.T) {
	withHeader := func(value string) *http.Response {
		resp := statusResp(http.StatusTooManyRequests)
		if value != "" {
			resp.Header.Set("Retry-After", value)
		}
		return resp
	}

	t.Run("given a delta in seconds, then the delay is that many seconds", func(t *testing.T) {
		delay, ok := RetryAfter(withHeader("120"))

		require.True(t, ok)
		assert.Equal(t, 2*time.Minute, delay)
	})

	t.Run("given zero seconds, then a zero delay is still honored", func(t *testing.T) {
		delay, ok := RetryAfter(withHeader("0"))

		require.True(t, ok)
		assert.Zero(t, delay)
	})

	t.Run("given an HTTP-date in the future, then the delay spans until it", func(t *testing.T) {
		when := time.Now().Add(90 * time.Second).UTC()
		delay, ok := RetryAfter(withHeader(when.Format(http.TimeFormat)))

		require.True(t, ok)
		assert.Greater(t, delay, 80*time.Second)
		assert.LessOrEqual(t, delay, 90*time.Second)
	})

	t.Run("given an HTTP-date in the past, then the delay is zero", func(t *testing.T) {
		when := time.Now().Add(-time.Hour).UTC()
		delay, ok := RetryAfter(withHeader(when.Format(http.TimeFormat)))

		require.True(t, ok)
		assert.Zero(t, delay)
	})

	tests := []struct {
		name  string
		value string
	}{
		{name: "given no header, then no delay", value: ""},
		{name: "given a negative delta, then no delay", value: "-5"},
		{name: "given garbage, then no delay", value: "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := RetryAfter(withHeader(tt.value))
			assert.False(t, ok)
		})
	}

	t.Run("given a nil response, then no delay", func(t *testing.T) {
		_, ok := RetryAfter(nil)
		assert.False(t, ok)
	})
}
