package httpsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// awaitDone fails the test when the request does not reach a terminal
// state in time.
func awaitDone(t *testing.T, r *Request) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("request did not finish in time")
	}
}

// fastRetryPolicy keeps retry delays in the low milliseconds so tests stay
// quick.
func fastRetryPolicy(maxRetries uint) *RetryPolicy {
	return NewRetryPolicy(RetryConfig{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Minute,
		Multiplier:      1.1,
		JitterFactor:    0.1,
	})
}

func TestSessionRequest_DeliversDecodedValue(t *testing.T) {
	type user struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": 7, "name": "ada"}`)
	}))
	defer server.Close()

	session := New()
	defer session.Invalidate()

	got := make(chan DataResponse[user], 1)
	req := session.Get(server.URL + "/users/7").Validate()
	ResponseDecodable(req, DecodableSerializer[user]{}, func(resp DataResponse[user]) {
		got <- resp
	})

	select {
	case resp := <-got:
		require.NoError(t, resp.Err)
		assert.Equal(t, user{ID: 7, Name: "ada"}, resp.Value)
		assert.Equal(t, http.StatusOK, resp.StatusCode())
		assert.JSONEq(t, `{"id": 7, "name": "ada"}`, string(resp.Data))
		require.NotNil(t, resp.Metrics)
		assert.Equal(t, 1, resp.Metrics.Attempts)
		assert.Positive(t, resp.Metrics.Total)
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}

	assert.Equal(t, StateFinished, req.State())
	assert.Zero(t, req.RetryCount())
}

func TestSessionRequest_StartBehavior(t *testing.T) {
	tests := []struct {
		name             string
		startImmediately bool
		wantHitsBefore   int32
	}{
		{
			name:             "given default session, then attaching a handler starts the request",
			startImmediately: true,
			wantHitsBefore:   1,
		},
		{
			name:             "given deferred start, then the request waits for an explicit resume",
			startImmediately: false,
			wantHitsBefore:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				fmt.Fprint(w, "ok")
			}))
			defer server.Close()

			session := New(WithStartRequestsImmediately(tt.startImmediately))
			defer session.Invalidate()

			req := session.Get(server.URL)
			req.ResponseData(func(DataResponse[[]byte]) {})

			if tt.startImmediately {
				awaitDone(t, req.Request)
			} else {
				time.Sleep(100 * time.Millisecond)
				assert.Equal(t, StateInitialized, req.State())
			}
			assert.Equal(t, tt.wantHitsBefore, hits.Load())

			req.Resume()
			awaitDone(t, req.Request)
			assert.Equal(t, StateFinished, req.State())
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestSessionRequest_ValidatorsAllRunAndFirstFailureWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "body")
	}))
	defer server.Close()

	session := New()
	defer session.Invalidate()

	var mu sync.Mutex
	var ran []string
	record := func(name string, err error) ValidationFunc {
		return func(*http.Request, *http.Response, []byte) error {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			return err
		}
	}

	errSecond := errors.New("second validator failed")
	errThird := errors.New("third validator failed")

	req := session.Get(server.URL).
		ValidateWith(record("first", nil)).
		ValidateWith(record("second", errSecond)).
		ValidateWith(record("third", errThird))
	req.ResponseData(func(DataResponse[[]byte]) {})

	awaitDone(t, req.Request)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, ran, "every validator runs, in attachment order")
	assert.ErrorIs(t, req.Err(), errSecond, "the first failure is the request error")
	assert.NotErrorIs(t, req.Err(), errThird)
	assert.NotNil(t, req.Response(), "a failed validation still keeps the response")
}

func TestSessionRequest_HandlersRunOnceInAttachmentOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "payload")
	}))
	defer server.Close()

	session := New()
	defer session.Invalidate()

	var mu sync.Mutex
	var order []string

	req := session.Get(server.URL)
	req.ResponseData(func(resp DataResponse[[]byte]) {
		mu.Lock()
		order = append(order, "bytes")
		mu.Unlock()
	})
	req.ResponseString(func(resp DataResponse[string]) {
		mu.Lock()
		order = append(order, "string")
		mu.Unlock()
		assert.Equal(t, "payload", resp.Value)
	})

	awaitDone(t, req.Request)

	// A handler attached after the request finished still runs, with the
	// settled outcome.
	late := make(chan DataResponse[string], 1)
	req.ResponseString(func(resp DataResponse[string]) { late <- resp })
	select {
	case resp := <-late:
		require.NoError(t, resp.Err)
		assert.Equal(t, "payload", resp.Value)
	case <-time.After(5 * time.Second):
		t.Fatal("late handler was not called")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"bytes", "string"}, order)
}

func TestSessionRequest_HandlerQueueReceivesDelivery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "queued")
	}))
	defer server.Close()

	session := New()
	defer session.Invalidate()

	delivered := make(chan string, 2)
	queue := QueueFunc(func(fn func()) {
		delivered <- "queued-first"
		go fn()
	})

	req := session.Get(server.URL)
	req.ResponseString(func(resp DataResponse[string]) {
		delivered <- "handler:" + resp.Value
	}, WithQueue(queue))

	awaitDone(t, req.Request)

	assert.Equal(t, "queued-first", <-delivered, "hand-off to the queue precedes delivery")
	assert.Equal(t, "handler:queued", <-delivered)
}

func TestSessionRequest_CancelLatchesAndIsIdempotent(t *testing.T) {
	entered := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-r.Context().Done()
	}))
	defer server.Close()

	session := New()
	defer session.Invalidate()

	req := session.Get(server.URL)
	req.ResponseData(func(DataResponse[[]byte]) {})

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the request")
	}

	req.Cancel()
	req.Cancel() // second cancel is a no-op
	awaitDone(t, req.Request)

	assert.Equal(t, StateCancelled, req.State())
	assert.ErrorIs(t, req.Err(), ErrCancelled)
	assert.ErrorIs(t, context.Cause(req.Context()), ErrCancelled)

	// Resuming or cancelling a terminal request changes nothing.
	req.Cancel()
	req.Resume()
	assert.Equal(t, StateCancelled, req.State())

	// Handlers attached after cancellation receive the cancellation as
	// their cause.
	late := make(chan DataResponse[[]byte], 1)
	req.ResponseData(func(resp DataResponse[[]byte]) { late <- resp })
	select {
	case resp := <-late:
		assert.ErrorIs(t, resp.Err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("late handler was not called")
	}
}

func TestSessionRequest_CancelBeforeStartNeverTouchesNetwork(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	session := New(WithStartRequestsImmediately(false))
	defer session.Invalidate()

	req := session.Get(server.URL)
	req.Cancel()
	awaitDone(t, req.Request)

	assert.Equal(t, StateCancelled, req.State())
	assert.ErrorIs(t, req.Err(), ErrCancelled)
	assert.Zero(t, hits.Load())
}

func TestSessionRequest_SuspendPausesTransfer(t *testing.T) {
	chunk1 := []byte("first-chunk")
	chunk2 := make([]byte, 96*1024)
	for i := range chunk2 {
		chunk2[i] = byte('a' + i%26)
	}

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(chunk1)+len(chunk2)))
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		_, _ = w.Write(chunk1)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write(chunk2)
	}))
	defer server.Close()

	firstChunk := make(chan struct{}, 1)
	session := New(WithEventMonitors(&EventMonitor{
		RequestDidReceiveData: func(*Request, int64) {
			select {
			case firstChunk <- struct{}{}:
			default:
			}
		},
	}))
	defer session.Invalidate()

	req := session.Get(server.URL)
	req.ResponseData(func(DataResponse[[]byte]) {})

	select {
	case <-firstChunk:
	case <-time.After(5 * time.Second):
		t.Fatal("first chunk never arrived")
	}

	req.Suspend()
	assert.Equal(t, StateSuspended, req.State())
	close(release)

	select {
	case <-req.Done():
		t.Fatal("suspended request finished")
	case <-time.After(200 * time.Millisecond):
	}

	req.Resume()
	awaitDone(t, req.Request)

	assert.Equal(t, StateFinished, req.State())
	assert.NoError(t, req.Err())
	assert.Len(t, req.Data(), len(chunk1)+len(chunk2))
}

func TestSessionRetry_AttemptsAreBounded(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusServiceUnavailable, "down")
	session := New(
		WithTransport(mock),
		WithInterceptor(fastRetryPolicy(2)),
	)
	defer session.Invalidate()

	req := session.Get("http://backend.test/resource").Validate()
	req.ResponseData(func(DataResponse[[]byte]) {})

	awaitDone(t, req.Request)

	assert.Equal(t, 3, mock.RequestCount(), "initial attempt plus two retries")
	assert.Equal(t, 2, req.RetryCount())
	assert.ErrorIs(t, req.Err(), ErrValidationFailed)
}

func TestSessionRetry_SucceedsAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	mock := NewMockTransport().
		StubFunc(func(*http.Request) bool { return calls.Add(1) == 1 }, http.StatusServiceUnavailable, "down").
		StubJSON(http.StatusOK, `{"ok": true}`)

	retries := make(chan int, 4)
	session := New(
		WithTransport(mock),
		WithInterceptor(fastRetryPolicy(3)),
		WithEventMonitors(&EventMonitor{
			RequestIsRetrying: func(_ *Request, retryCount int) { retries <- retryCount },
		}),
	)
	defer session.Invalidate()

	got := make(chan DataResponse[map[string]bool], 1)
	req := session.Get("http://backend.test/flaky").Validate()
	ResponseDecodable(req, DecodableSerializer[map[string]bool]{}, func(resp DataResponse[map[string]bool]) {
		got <- resp
	})

	awaitDone(t, req.Request)

	resp := <-got
	require.NoError(t, resp.Err, "the retried attempt's success clears the earlier failure")
	assert.True(t, resp.Value["ok"])
	assert.Equal(t, 1, req.RetryCount())
	assert.Equal(t, 2, mock.RequestCount())
	require.NotNil(t, resp.Metrics)
	assert.Equal(t, 2, resp.Metrics.Attempts)
	assert.Equal(t, 1, <-retries)
}

func TestSessionRetry_RetrierErrorWrapsOriginal(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusServiceUnavailable, "down")
	errGiveUp := errors.New("budget exhausted")
	retrier := RetrierFunc(func(*Request, *Session, error) RetryDecision {
		return DoNotRetryWithError(errGiveUp)
	})
	session := New(
		WithTransport(mock),
		WithInterceptor(NewInterceptor(nil, []Retrier{retrier})),
	)
	defer session.Invalidate()

	req := session.Get("http://backend.test/resource").Validate()
	req.ResponseData(func(DataResponse[[]byte]) {})
	awaitDone(t, req.Request)

	var retryErr *RetryFailedError
	require.ErrorAs(t, req.Err(), &retryErr)
	assert.ErrorIs(t, req.Err(), errGiveUp)
	assert.ErrorIs(t, req.Err(), ErrValidationFailed, "the original attempt error is preserved")
}

func TestSessionRequest_404FailsDefaultValidation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer server.Close()

	session := New()
	defer session.Invalidate()

	got := make(chan DataResponse[[]byte], 1)
	req := session.Get(server.URL + "/absent").Validate()
	req.ResponseData(func(resp DataResponse[[]byte]) { got <- resp })

	awaitDone(t, req.Request)

	resp := <-got
	require.Error(t, resp.Err)
	assert.ErrorIs(t, resp.Err, ErrValidationFailed)
	var verr *ValidationError
	require.ErrorAs(t, resp.Err, &verr)
	assert.Equal(t, ReasonUnacceptableStatusCode, verr.Reason)
	assert.Equal(t, http.StatusNotFound, verr.StatusCode)
	assert.Contains(t, resp.Err.Error(), "unacceptable status code 404")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode(), "the response survives validation failure")
}

func TestSessionRedirect_Policies(t *testing.T) {
	mux := http.NewServeMux()
	var finalHits atomic.Int32
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/hop", http.StatusFound)
	})
	mux.HandleFunc("/hop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, _ *http.Request) {
		finalHits.Add(1)
		fmt.Fprint(w, "landed")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	t.Run("given the default policy, then redirects are followed to the end", func(t *testing.T) {
		session := New()
		defer session.Invalidate()

		got := make(chan DataResponse[string], 1)
		req := session.Get(server.URL + "/start")
		req.ResponseString(func(resp DataResponse[string]) { got <- resp })
		awaitDone(t, req.Request)

		resp := <-got
		require.NoError(t, resp.Err)
		assert.Equal(t, "landed", resp.Value)
		assert.Equal(t, "/final", resp.Response.Request.URL.Path)
	})

	t.Run("given a deny policy, then the redirect response itself surfaces", func(t *testing.T) {
		before := finalHits.Load()
		session := New()
		defer session.Invalidate()

		got := make(chan DataResponse[[]byte], 1)
		req := session.Get(server.URL+"/start", WithRedirector(DenyRedirects))
		req.ResponseData(func(resp DataResponse[[]byte]) { got <- resp })
		awaitDone(t, req.Request)

		resp := <-got
		require.NoError(t, resp.Err)
		assert.Equal(t, http.StatusFound, resp.StatusCode())
		assert.Equal(t, "/hop", resp.Response.Header.Get("Location"))
		assert.Equal(t, before, finalHits.Load(), "nothing past the first redirect is fetched")
	})

	t.Run("given a hop limit, then exceeding it fails the attempt", func(t *testing.T) {
		session := New(WithRedirectPolicy(LimitRedirects(1)))
		defer session.Invalidate()

		req := session.Get(server.URL + "/start")
		req.ResponseData(func(DataResponse[[]byte]) {})
		awaitDone(t, req.Request)

		require.Error(t, req.Err())
		assert.Contains(t, req.Err().Error(), "stopped after 1 redirects")
	})

	t.Run("given a redirect monitor, then the proposal is observed", func(t *testing.T) {
		proposals := make(chan string, 4)
		session := New(WithEventMonitors(&EventMonitor{
			RequestWillRedirect: func(_ *Request, _ *http.Response, proposed *http.Request) {
				proposals <- proposed.URL.Path
			},
		}))
		defer session.Invalidate()

		req := session.Get(server.URL + "/start")
		req.ResponseData(func(DataResponse[[]byte]) {})
		awaitDone(t, req.Request)

		assert.Equal(t, "/hop", <-proposals)
		assert.Equal(t, "/final", <-proposals)
	})
}

func TestSessionRequest_BasicAuth(t *testing.T) {
	t.Run("given the WithBasicAuth option, then credentials ride every attempt", func(t *testing.T) {
		mock := NewMockTransport().StubResponse(http.StatusOK, "ok")
		session := New(WithTransport(mock))
		defer session.Invalidate()

		req := session.Get("http://backend.test/secure", WithBasicAuth("scout", "hunter2"))
		req.ResponseData(func(DataResponse[[]byte]) {})
		awaitDone(t, req.Request)

		last := mock.LastRequest()
		require.NotNil(t, last)
		user, pass, ok := last.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "scout", user)
		assert.Equal(t, "hunter2", pass)
	})

	t.Run("given Authenticate called before the first handler, then the attempt carries the credentials", func(t *testing.T) {
		mock := NewMockTransport().StubResponse(http.StatusOK, "ok")
		session := New(WithTransport(mock))
		defer session.Invalidate()

		req := session.Get("http://backend.test/secure")
		req.Authenticate("scout", "hunter2")
		req.ResponseData(func(DataResponse[[]byte]) {})
		awaitDone(t, req.Request)

		last := mock.LastRequest()
		require.NotNil(t, last)
		user, pass, ok := last.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "scout", user)
		assert.Equal(t, "hunter2", pass)
	})
}

func TestSessionRequest_AdapterFailureSkipsNetwork(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "ok")
	errNoToken := errors.New("no token available")
	adapter := AdapterFunc(func(*http.Request, *Session) (*http.Request, error) {
		return nil, errNoToken
	})
	session := New(
		WithTransport(mock),
		WithInterceptor(NewInterceptor([]Adapter{adapter}, nil)),
	)
	defer session.Invalidate()

	got := make(chan DataResponse[[]byte], 1)
	req := session.Get("http://backend.test/resource")
	req.ResponseData(func(resp DataResponse[[]byte]) { got <- resp })
	awaitDone(t, req.Request)

	var aerr *AdapterError
	require.ErrorAs(t, req.Err(), &aerr)
	assert.ErrorIs(t, req.Err(), errNoToken)
	assert.Zero(t, mock.RequestCount())
	assert.ErrorIs(t, (<-got).Err, errNoToken)
}

func TestSessionInvalidate(t *testing.T) {
	entered := make(chan struct{}, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-r.Context().Done()
	}))
	defer server.Close()

	session := New()

	first := session.Get(server.URL)
	first.ResponseData(func(DataResponse[[]byte]) {})
	second := session.Get(server.URL)
	second.ResponseData(func(DataResponse[[]byte]) {})

	for range 2 {
		select {
		case <-entered:
		case <-time.After(5 * time.Second):
			t.Fatal("server never saw both requests")
		}
	}

	session.Invalidate()
	session.Invalidate() // idempotent

	awaitDone(t, first.Request)
	awaitDone(t, second.Request)
	assert.ErrorIs(t, first.Err(), ErrSessionInvalidated)
	assert.ErrorIs(t, second.Err(), ErrSessionInvalidated)
	assert.True(t, session.Invalidated())
	assert.Zero(t, session.ActiveRequestCount())

	// A request created afterwards fails without reaching the network.
	got := make(chan DataResponse[[]byte], 1)
	late := session.Get(server.URL)
	late.ResponseData(func(resp DataResponse[[]byte]) { got <- resp })
	awaitDone(t, late.Request)
	select {
	case resp := <-got:
		assert.ErrorIs(t, resp.Err, ErrSessionInvalidated)
	case <-time.After(5 * time.Second):
		t.Fatal("late handler was not called")
	}
}

func TestSessionActiveRequestCount(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	session := New()
	defer session.Invalidate()
	assert.Zero(t, session.ActiveRequestCount())

	req := session.Get(server.URL)
	req.ResponseData(func(DataResponse[[]byte]) {})
	assert.Equal(t, 1, session.ActiveRequestCount())

	close(release)
	awaitDone(t, req.Request)
	assert.Zero(t, session.ActiveRequestCount())
}

func TestSessionRequest_BuildFailure(t *testing.T) {
	session := New(WithTransport(NewMockTransport().StubResponse(http.StatusOK, "ok")))
	defer session.Invalidate()

	req := session.Get("http://[::1]:namedport") // invalid URL
	req.ResponseData(func(DataResponse[[]byte]) {})
	awaitDone(t, req.Request)

	var berr *BuildError
	require.ErrorAs(t, req.Err(), &berr)
	assert.Equal(t, StateFinished, req.State())
}

func TestSessionGet_IssuesGET(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "ok")
	session := New(WithTransport(mock))
	defer session.Invalidate()

	req := session.Get("http://backend.test/things?page=2")
	req.ResponseData(func(DataResponse[[]byte]) {})
	awaitDone(t, req.Request)

	last := mock.LastRequest()
	require.NotNil(t, last)
	assert.Equal(t, http.MethodGet, last.Method)
	assert.Equal(t, "/things", last.URL.Path)
	assert.Equal(t, "2", last.URL.Query().Get("page"))
}

func TestDefaultSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "pong")
	}))
	defer server.Close()

	t.Run("given repeated calls, then Default returns the same session", func(t *testing.T) {
		assert.Same(t, Default(), Default())
	})

	t.Run("given the package-level Get, then it runs on the default session", func(t *testing.T) {
		got := make(chan DataResponse[string], 1)
		req := Get(server.URL + "/ping")
		req.ResponseString(func(resp DataResponse[string]) { got <- resp })

		select {
		case resp := <-got:
			require.NoError(t, resp.Err)
			assert.Equal(t, "pong", resp.Value)
		case <-time.After(5 * time.Second):
			t.Fatal("handler was not called")
		}
		assert.Same(t, Default(), req.session)
	})

	t.Run("given the package-level Download, then the file lands at the destination", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "ping.txt")
		req := Download(URLConvertible(server.URL+"/ping"), DestinationPath(dest))

		got := make(chan DownloadResponse[string], 1)
		req.ResponseFile(func(resp DownloadResponse[string]) { got <- resp })

		select {
		case resp := <-got:
			require.NoError(t, resp.Err)
			assert.Equal(t, dest, resp.FilePath)
			body, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.Equal(t, "pong", string(body))
		case <-time.After(5 * time.Second):
			t.Fatal("handler was not called")
		}
	})
}
