package httpsession

import "net/http"

// EventMonitor observes request lifecycle events. Every field is optional;
// leave a field nil to ignore that event. Events for a single request arrive
// in lifecycle order, but events of different requests interleave.
//
// Callbacks run on Queue when set, otherwise inline on the session's
// internal queues, so a nil-Queue monitor must not block.
type EventMonitor struct {
	// Queue, when set, receives every callback asynchronously.
	Queue DispatchQueue

	// RequestDidCreate fires when a session creates a request, before any
	// attempt runs.
	RequestDidCreate func(req *Request)
	// RequestDidResume fires on each transition into the resumed state.
	RequestDidResume func(req *Request)
	// RequestDidSuspend fires on each transition into the suspended state.
	RequestDidSuspend func(req *Request)
	// RequestDidCancel fires once when a request is cancelled.
	RequestDidCancel func(req *Request)
	// RequestDidCreateTask fires when an attempt's task is created.
	RequestDidCreateTask func(req *Request, taskID int64)
	// RequestDidCompleteTask fires when an attempt finishes, before
	// validation and retry deliberation.
	RequestDidCompleteTask func(req *Request, resp *http.Response, err error)
	// RequestDidReceiveData fires per response body chunk on data requests.
	RequestDidReceiveData func(req *Request, chunkSize int64)
	// RequestDidSendBodyData fires per request body chunk on uploads.
	RequestDidSendBodyData func(req *Request, bytesSent, totalBytesSent, totalBytesExpected int64)
	// RequestDidWriteData fires per file chunk written on downloads.
	RequestDidWriteData func(req *Request, bytesWritten, totalBytesWritten, totalBytesExpected int64)
	// RequestDidFinishDownloading fires when a download's file is complete
	// at its temporary location, before the move to the destination.
	RequestDidFinishDownloading func(req *Request, tempPath string)
	// RequestWillRedirect fires before a redirect proposal is resolved.
	RequestWillRedirect func(req *Request, resp *http.Response, proposed *http.Request)
	// RequestDidValidate fires once per validator run against a finished
	// attempt, with that validator's verdict.
	RequestDidValidate func(req *Request, resp *http.Response, err error)
	// RequestIsRetrying fires after a retrier schedules another attempt.
	RequestIsRetrying func(req *Request, retryCount int)
	// RequestDidCollectMetrics fires when an attempt's metrics snapshot is
	// ready.
	RequestDidCollectMetrics func(req *Request, metrics *Metrics)
	// RequestDidSerializeResponse fires after each response handler's
	// serializer runs, with the serializer's verdict.
	RequestDidSerializeResponse func(req *Request, err error)
	// RequestDidFinish fires exactly once when a request reaches a terminal
	// state.
	RequestDidFinish func(req *Request)
}

// compositeEventMonitor fans events out to every registered monitor. All
// emit methods tolerate nil handler fields and never block on a monitor's
// queue.
type compositeEventMonitor struct {
	monitors []*EventMonitor
}

func newCompositeEventMonitor(monitors ...*EventMonitor) *compositeEventMonitor {
	return &compositeEventMonitor{monitors: monitors}
}

// emit runs fn inline or hands it to the monitor's queue.
func emit(queue DispatchQueue, fn func()) {
	if queue == nil {
		fn()
		return
	}
	queue.Async(fn)
}

func (c *compositeEventMonitor) requestDidCreate(req *Request) {
	for _, m := range c.monitors {
		if fn := m.RequestDidCreate; fn != nil {
			emit(m.Queue, func() { fn(req) })
		}
	}
}

func (c *compositeEventMonitor) requestDidResume(req *Request) {
	for _, m := range c.monitors {
		if fn := m.RequestDidResume; fn != nil {
			emit(m.Queue, func() { fn(req) })
		}
	}
}

func (c *compositeEventMonitor) requestDidSuspend(req *Request) {
	for _, m := range c.monitors {
		if fn := m.RequestDidSuspend; fn != nil {
			emit(m.Queue, func() { fn(req) })
		}
	}
}

func (c *compositeEventMonitor) requestDidCancel(req *Request) {
	for _, m := range c.monitors {
		if fn := m.RequestDidCancel; fn != nil {
			emit(m.Queue, func() { fn(req) })
		}
	}
}

func (c *compositeEventMonitor) requestDidCreateTask(req *Request, taskID int64) {
	for _, m := range c.monitors {
		if fn := m.RequestDidCreateTask; fn != nil {
			emit(m.Queue, func() { fn(req, taskID) })
		}
	}
}

func (c *compositeEventMonitor) requestDidCompleteTask(req *Request, resp *http.Response, err error) {
	for _, m := range c.monitors {
		if fn := m.RequestDidCompleteTask; fn != nil {
			emit(m.Queue, func() { fn(req, resp, err) })
		}
	}
}

func (c *compositeEventMonitor) requestDidReceiveData(req *Request, chunkSize int64) {
	for _, m := range c.monitors {
		if fn := m.RequestDidReceiveData; fn != nil {
			emit(m.Queue, func() { fn(req, chunkSize) })
		}
	}
}

func (c *compositeEventMonitor) requestDidSendBodyData(req *Request, bytesSent, totalBytesSent, totalBytesExpected int64) {
	for _, m := range c.monitors {
		if fn := m.RequestDidSendBodyData; fn != nil {
			emit(m.Queue, func() { fn(req, bytesSent, totalBytesSent, totalBytesExpected) })
		}
	}
}

func (c *compositeEventMonitor) requestDidWriteData(req *Request, bytesWritten, totalBytesWritten, totalBytesExpected int64) {
	for _, m := range c.monitors {
		if fn := m.RequestDidWriteData; fn != nil {
			emit(m.Queue, func() { fn(req, bytesWritten, totalBytesWritten, totalBytesExpected) })
		}
	}
}

func (c *compositeEventMonitor) requestDidFinishDownloading(req *Request, tempPath string) {
	for _, m := range c.monitors {
		if fn := m.RequestDidFinishDownloading; fn != nil {
			emit(m.Queue, func() { fn(req, tempPath) })
		}
	}
}

func (c *compositeEventMonitor) requestWillRedirect(req *Request, resp *http.Response, proposed *http.Request) {
	for _, m := range c.monitors {
		if fn := m.RequestWillRedirect; fn != nil {
			emit(m.Queue, func() { fn(req, resp, proposed) })
		}
	}
}

func (c *compositeEventMonitor) requestDidValidate(req *Request, resp *http.Response, err error) {
	for _, m := range c.monitors {
		if fn := m.RequestDidValidate; fn != nil {
			emit(m.Queue, func() { fn(req, resp, err) })
		}
	}
}

func (c *compositeEventMonitor) requestIsRetrying(req *Request, retryCount int) {
	for _, m := range c.monitors {
		if fn := m.RequestIsRetrying; fn != nil {
			emit(m.Queue, func() { fn(req, retryCount) })
		}
	}
}

func (c *compositeEventMonitor) requestDidCollectMetrics(req *Request, metrics *Metrics) {
	for _, m := range c.monitors {
		if fn := m.RequestDidCollectMetrics; fn != nil {
			emit(m.Queue, func() { fn(req, metrics) })
		}
	}
}

func (c *compositeEventMonitor) requestDidSerializeResponse(req *Request, err error) {
	for _, m := range c.monitors {
		if fn := m.RequestDidSerializeResponse; fn != nil {
			emit(m.Queue, func() { fn(req, err) })
		}
	}
}

func (c *compositeEventMonitor) requestDidFinish(req *Request) {
	for _, m := range c.monitors {
		if fn := m.RequestDidFinish; fn != nil {
			emit(m.Queue, func() { fn(req) })
		}
	}
}
