package httpsession

import (
	"net/http"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventRecorder captures lifecycle events by name, in arrival order.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) record(name string) {
	r.mu.Lock()
	r.events = append(r.events, name)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *eventRecorder) monitor() *EventMonitor {
	return &EventMonitor{
		RequestDidCreate:            func(*Request) { r.record("created") },
		RequestDidResume:            func(*Request) { r.record("resumed") },
		RequestDidSuspend:           func(*Request) { r.record("suspended") },
		RequestDidCancel:            func(*Request) { r.record("cancelled") },
		RequestDidCreateTask:        func(*Request, int64) { r.record("task_created") },
		RequestDidCompleteTask:      func(*Request, *http.Response, error) { r.record("task_completed") },
		RequestDidReceiveData:       func(*Request, int64) { r.record("data") },
		RequestDidValidate:          func(*Request, *http.Response, error) { r.record("validated") },
		RequestDidCollectMetrics:    func(*Request, *Metrics) { r.record("metrics") },
		RequestDidSerializeResponse: func(*Request, error) { r.record("serialized") },
		RequestDidFinish:            func(*Request) { r.record("finished") },
	}
}

// dedupe collapses consecutive repeats so chunk-count differences do not
// matter.
func dedupe(events []string) []string {
	var out []string
	for _, e := range events {
		if len(out) == 0 || out[len(out)-1] != e {
			out = append(out, e)
		}
	}
	return out
}

func TestEventMonitor_LifecycleOrder(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "observable body")
	recorder := &eventRecorder{}
	session := New(WithTransport(mock), WithEventMonitors(recorder.monitor()))
	defer session.Invalidate()

	delivered := make(chan struct{})
	req := session.Get("http://backend.test/resource").Validate()
	req.ResponseData(func(DataResponse[[]byte]) { close(delivered) })
	awaitDone(t, req.Request)
	<-delivered

	got := dedupe(recorder.snapshot())
	want := []string{
		"created",
		"resumed",
		"task_created",
		"data",
		"metrics",
		"task_completed",
		"validated",
		"finished",
		"serialized",
	}
	assert.Equal(t, want, got, "metrics precede completion; validation precedes finish")
}

func TestEventMonitor_CancelledLifecycle(t *testing.T) {
	recorder := &eventRecorder{}
	session := New(
		WithTransport(NewMockTransport().StubResponse(http.StatusOK, "ok")),
		WithStartRequestsImmediately(false),
		WithEventMonitors(recorder.monitor()),
	)
	defer session.Invalidate()

	req := session.Get("http://backend.test/resource")
	req.Cancel()
	awaitDone(t, req.Request)

	got := recorder.snapshot()
	assert.Equal(t, []string{"created", "cancelled", "finished"}, got)
}

func TestEventMonitor_FansOutToEveryMonitor(t *testing.T) {
	first := &eventRecorder{}
	second := &eventRecorder{}
	session := New(
		WithTransport(NewMockTransport().StubResponse(http.StatusOK, "ok")),
		WithEventMonitors(first.monitor(), second.monitor()),
	)
	defer session.Invalidate()

	delivered := make(chan struct{})
	req := session.Get("http://backend.test/resource")
	req.ResponseData(func(DataResponse[[]byte]) { close(delivered) })
	awaitDone(t, req.Request)
	<-delivered

	assert.Equal(t, first.snapshot(), second.snapshot())
	assert.NotEmpty(t, first.snapshot())
}

func TestEventMonitor_QueueReceivesCallbacks(t *testing.T) {
	var queued sync.WaitGroup
	recorder := &eventRecorder{}
	monitor := recorder.monitor()
	monitor.Queue = QueueFunc(func(fn func()) {
		queued.Add(1)
		go func() {
			defer queued.Done()
			fn()
		}()
	})

	session := New(
		WithTransport(NewMockTransport().StubResponse(http.StatusOK, "ok")),
		WithEventMonitors(monitor),
	)
	defer session.Invalidate()

	req := session.Get("http://backend.test/resource")
	req.ResponseData(func(DataResponse[[]byte]) {})
	awaitDone(t, req.Request)

	queued.Wait()
	events := recorder.snapshot()
	assert.Contains(t, events, "created")
	assert.Contains(t, events, "finished")
}

func TestEventMonitor_SparseMonitorIgnoresUnsetEvents(t *testing.T) {
	var finishes int
	var mu sync.Mutex
	session := New(
		WithTransport(NewMockTransport().StubResponse(http.StatusOK, "ok")),
		WithEventMonitors(&EventMonitor{
			RequestDidFinish: func(*Request) {
				mu.Lock()
				finishes++
				mu.Unlock()
			},
		}),
	)
	defer session.Invalidate()

	req := session.Get("http://backend.test/resource")
	req.ResponseData(func(DataResponse[[]byte]) {})
	awaitDone(t, req.Request)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, finishes, "the finish event fires exactly once")
}

func TestEventMonitor_ValidationVerdictsPerValidator(t *testing.T) {
	var mu sync.Mutex
	var verdicts []error
	session := New(
		WithTransport(NewMockTransport().StubResponse(http.StatusTeapot, "short and stout")),
		WithEventMonitors(&EventMonitor{
			RequestDidValidate: func(_ *Request, _ *http.Response, err error) {
				mu.Lock()
				verdicts = append(verdicts, err)
				mu.Unlock()
			},
		}),
	)
	defer session.Invalidate()

	req := session.Get("http://backend.test/teapot").
		ValidateWith(ValidateStatusCodes(http.StatusTeapot)).
		ValidateWith(ValidateStatusCodes(http.StatusOK))
	req.ResponseData(func(DataResponse[[]byte]) {})
	awaitDone(t, req.Request)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, verdicts, 2)
	assert.NoError(t, verdicts[0])
	assert.Error(t, verdicts[1])
}
