package httpsession

import (
	"net/http"
)

// requestCtxKey carries the owning Request through a wire request's
// context so the redirect hook can find it.
type requestCtxKey struct{}

// sessionDelegate multiplexes task events back to their requests. Tasks
// report events by task identifier; the delegate resolves the identifier
// through the session's task map on a single serial queue, so per-request
// state is only ever touched from one goroutine at a time. Events for
// unknown or superseded tasks are dropped.
type sessionDelegate struct {
	session *Session
	queue   *SerialQueue
	taskMap *requestTaskMap
	monitor *compositeEventMonitor
}

func newSessionDelegate(s *Session, monitor *compositeEventMonitor) *sessionDelegate {
	return &sessionDelegate{
		session: s,
		queue:   NewSerialQueue(),
		taskMap: newRequestTaskMap(),
		monitor: monitor,
	}
}

// route hands an event to the request currently bound to the task.
func (d *sessionDelegate) route(taskID int64, fn func(r *Request, td *taskDelegate)) {
	d.queue.Async(func() {
		r, ok := d.taskMap.requestForTask(taskID)
		if !ok {
			return
		}
		td := r.currentDelegate()
		if td == nil || td.taskID != taskID {
			return
		}
		fn(r, td)
	})
}

func (d *sessionDelegate) taskDidReceiveData(taskID int64, chunk []byte) {
	d.route(taskID, func(r *Request, td *taskDelegate) {
		if td.onData == nil {
			return
		}
		td.onData(chunk)
		d.monitor.requestDidReceiveData(r, int64(len(chunk)))
	})
}

func (d *sessionDelegate) taskDidSendBodyData(taskID, bytesSent, totalSent, totalExpected int64) {
	d.route(taskID, func(r *Request, td *taskDelegate) {
		if td.onSendBodyData == nil {
			return
		}
		td.onSendBodyData(bytesSent, totalSent, totalExpected)
		d.monitor.requestDidSendBodyData(r, bytesSent, totalSent, totalExpected)
	})
}

func (d *sessionDelegate) downloadTaskDidWriteData(taskID, bytesWritten, totalWritten, totalExpected int64) {
	d.route(taskID, func(r *Request, td *taskDelegate) {
		if td.onWriteData == nil {
			return
		}
		td.onWriteData(bytesWritten, totalWritten, totalExpected)
		d.monitor.requestDidWriteData(r, bytesWritten, totalWritten, totalExpected)
	})
}

func (d *sessionDelegate) downloadTaskDidResumeAtOffset(taskID, offset, totalExpected int64) {
	d.route(taskID, func(r *Request, td *taskDelegate) {
		if td.onResumeAtOffset != nil {
			td.onResumeAtOffset(offset, totalExpected)
		}
	})
}

func (d *sessionDelegate) downloadTaskDidFinish(taskID int64, tempPath string, resp *http.Response) {
	d.route(taskID, func(r *Request, td *taskDelegate) {
		if td.onFinishDownloading == nil {
			return
		}
		td.onFinishDownloading(tempPath, resp)
		d.monitor.requestDidFinishDownloading(r, tempPath)
	})
}

func (d *sessionDelegate) downloadTaskDidProduceResumeData(taskID int64, blob []byte) {
	d.route(taskID, func(r *Request, td *taskDelegate) {
		if td.onProduceResumeData != nil {
			td.onProduceResumeData(blob)
		}
	})
}

func (d *sessionDelegate) taskDidCollectMetrics(taskID int64, m *Metrics) {
	d.route(taskID, func(r *Request, td *taskDelegate) {
		r.setMetrics(m)
		d.monitor.requestDidCollectMetrics(r, m)
	})
}

// taskDidComplete unbinds the task and hands the attempt outcome to the
// request. Validation and the retry decision follow from there.
func (d *sessionDelegate) taskDidComplete(taskID int64, resp *http.Response, err error) {
	d.route(taskID, func(r *Request, td *taskDelegate) {
		d.taskMap.removeTask(taskID)
		d.monitor.requestDidCompleteTask(r, resp, err)
		r.attemptDidComplete(resp, err)
	})
}

// checkRedirect is installed as the HTTP client's redirect hook. It runs
// synchronously on the transport goroutine: it resolves the owning request
// from the proposed request's context and consults the request-level then
// session-level redirector. A nil follow-up request surfaces the redirect
// response itself.
func (d *sessionDelegate) checkRedirect(req *http.Request, via []*http.Request) error {
	redirector := d.session.cfg.redirector
	if r, ok := req.Context().Value(requestCtxKey{}).(*Request); ok && r != nil {
		d.monitor.requestWillRedirect(r, req.Response, req)
		if r.redirector != nil {
			redirector = r.redirector
		}
	}
	if redirector == nil {
		redirector = FollowRedirects
	}
	next, err := redirector.Redirect(req, via)
	if err != nil {
		return err
	}
	if next == nil {
		return http.ErrUseLastResponse
	}
	if next != req {
		req.URL = next.URL
		req.Header = next.Header
	}
	return nil
}
