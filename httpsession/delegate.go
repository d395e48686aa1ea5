package httpsession

import "net/http"

// taskKind identifies the flavor of work an attempt performs.
type taskKind int

const (
	// taskPlain consumes and discards the response body.
	taskPlain taskKind = iota
	// taskData accumulates the response body in memory.
	taskData
	// taskUpload is taskData plus request body progress.
	taskUpload
	// taskDownload streams the response body to disk.
	taskDownload

	taskKindSentinel
)

var taskKindNames = [taskKindSentinel]string{
	taskPlain:    "plain",
	taskData:     "data",
	taskUpload:   "upload",
	taskDownload: "download",
}

func (k taskKind) String() string {
	if k < 0 || k >= taskKindSentinel {
		return "unknown"
	}
	return taskKindNames[k]
}

// taskDelegate is one attempt's event sink. A fresh delegate is installed
// per attempt, tagged with the task it serves; the session delegate drops
// events whose task no longer matches the request's current delegate, so a
// superseded attempt can never corrupt its successor.
//
// Event funcs are nil for kinds that do not consume the event; routing to a
// nil func is a no-op.
type taskDelegate struct {
	kind   taskKind
	taskID int64

	// onData receives response body chunks (data and upload kinds).
	onData func(chunk []byte)
	// onSendBodyData receives request body progress (upload kind).
	onSendBodyData func(bytesSent, totalSent, totalExpected int64)
	// onWriteData receives file write progress (download kind).
	onWriteData func(bytesWritten, totalWritten, totalExpected int64)
	// onResumeAtOffset fires when a server honors a resumed download's
	// Range request (download kind).
	onResumeAtOffset func(offset, totalExpected int64)
	// onFinishDownloading fires with the completed temporary file, before
	// the attempt completes (download kind).
	onFinishDownloading func(tempPath string, resp *http.Response)
	// onProduceResumeData fires with the resume blob of a cancelled
	// download (download kind).
	onProduceResumeData func(blob []byte)
}

// buildDelegate assembles the delegate for one attempt according to the
// request's kind.
func (r *Request) buildDelegate(taskID int64) *taskDelegate {
	d := &taskDelegate{kind: r.kind, taskID: taskID}
	switch r.kind {
	case taskData:
		d.onData = r.appendData
	case taskUpload:
		d.onData = r.appendData
		d.onSendBodyData = r.recordSentBodyData
	case taskDownload:
		d.onWriteData = r.recordWrittenData
		d.onResumeAtOffset = r.recordResumeOffset
		d.onFinishDownloading = r.downloadDidFinish
		d.onProduceResumeData = r.recordResumeData
	}
	return d
}
