package httpsession

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	json "github.com/goccy/go-json"
)

const streamChunkSize = 32 * 1024

// task executes one attempt: a single wire request through the session's
// client, streaming the response body according to its kind and reporting
// events to the session delegate. A task runs on its own goroutine and
// never touches its request directly.
type task struct {
	id      int64
	kind    taskKind
	attempt int
	wire    *http.Request
	client  *http.Client
	sd      *sessionDelegate
	pause   *pauseGate
	metrics *metricsCollector
	sent    atomic.Int64

	// Download state.
	tempDir       string
	resume        *resumeState
	produceResume *atomic.Bool
}

func (t *task) run() {
	ctx := t.wire.Context()
	if err := t.pause.wait(ctx); err != nil {
		t.finish(nil, err, 0)
		return
	}
	if t.kind == taskUpload && t.wire.Body != nil {
		t.wire.Body = t.instrumentBody(t.wire.Body)
	}
	resp, err := t.client.Do(t.wire)
	if err != nil {
		t.finish(nil, err, 0)
		return
	}
	if t.kind == taskDownload {
		t.streamToFile(ctx, resp)
		return
	}
	t.streamToDelegate(ctx, resp)
}

// streamToDelegate reads the body in chunks, handing each chunk to the
// session delegate. Plain tasks drain the body without reporting it.
func (t *task) streamToDelegate(ctx context.Context, resp *http.Response) {
	var received int64
	buf := make([]byte, streamChunkSize)
	for {
		if err := t.pause.wait(ctx); err != nil {
			resp.Body.Close()
			t.finish(resp, err, received)
			return
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			received += int64(n)
			if t.kind != taskPlain {
				t.sd.taskDidReceiveData(t.id, bytes.Clone(buf[:n]))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			resp.Body.Close()
			t.finish(resp, err, received)
			return
		}
	}
	resp.Body.Close()
	t.finish(resp, nil, received)
}

// streamToFile writes the body to the task's temporary file, reporting
// write progress. The finished-downloading event is emitted before the
// completion event; the delegate queue preserves that order.
func (t *task) streamToFile(ctx context.Context, resp *http.Response) {
	file, written, err := t.openTempFile(resp)
	if err != nil {
		resp.Body.Close()
		t.finish(resp, err, written)
		return
	}
	total := downloadTotal(resp, written)
	if resp.StatusCode == http.StatusPartialContent && written > 0 {
		t.sd.downloadTaskDidResumeAtOffset(t.id, written, total)
	}
	buf := make([]byte, streamChunkSize)
	for {
		if err := t.pause.wait(ctx); err != nil {
			t.abortDownload(resp, file, written, err)
			return
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				resp.Body.Close()
				file.Close()
				os.Remove(file.Name())
				t.finish(resp, werr, written)
				return
			}
			written += int64(n)
			t.sd.downloadTaskDidWriteData(t.id, int64(n), written, total)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			t.abortDownload(resp, file, written, rerr)
			return
		}
	}
	resp.Body.Close()
	if err := file.Close(); err != nil {
		t.finish(resp, err, written)
		return
	}
	t.sd.downloadTaskDidFinish(t.id, file.Name(), resp)
	t.finish(resp, nil, written)
}

// abortDownload tears down a failed download. A cancelled attempt whose
// request asked for resume data keeps the partial file and emits a resume
// blob; every other failure discards the partial file.
func (t *task) abortDownload(resp *http.Response, file *os.File, written int64, err error) {
	resp.Body.Close()
	file.Close()
	err = t.normalizeError(err)
	if errors.Is(err, ErrCancelled) && t.produceResume != nil && t.produceResume.Load() && written > 0 {
		blob, merr := json.Marshal(&resumeState{
			URL:          t.wire.URL.String(),
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			TempPath:     file.Name(),
			Offset:       written,
		})
		if merr == nil {
			t.sd.downloadTaskDidProduceResumeData(t.id, blob)
			t.emitCompletion(resp, err, written)
			return
		}
	}
	os.Remove(file.Name())
	t.emitCompletion(resp, err, written)
}

// openTempFile opens the file the body streams into. A resumed download
// whose Range was honored reopens the partial file for append; a server
// that ignored the Range restarts into the same file. Fresh downloads get
// a new temporary file.
func (t *task) openTempFile(resp *http.Response) (*os.File, int64, error) {
	if t.resume != nil {
		if resp.StatusCode == http.StatusPartialContent {
			file, err := os.OpenFile(t.resume.TempPath, os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return nil, 0, &ResumeDataError{Err: err}
			}
			info, err := file.Stat()
			if err != nil {
				file.Close()
				return nil, 0, &ResumeDataError{Err: err}
			}
			if info.Size() != t.resume.Offset {
				file.Close()
				return nil, 0, &ResumeDataError{Err: fmt.Errorf("partial file %s is %d bytes, resume data recorded %d", t.resume.TempPath, info.Size(), t.resume.Offset)}
			}
			return file, t.resume.Offset, nil
		}
		file, err := os.OpenFile(t.resume.TempPath, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
		return file, 0, err
	}
	file, err := os.CreateTemp(t.tempDir, "courier-dl-*")
	return file, 0, err
}

// finish emits the attempt's metrics followed by its completion, mapping
// context cancellation to the recorded cause. Emitted at most once per
// task.
func (t *task) finish(resp *http.Response, err error, received int64) {
	t.emitCompletion(resp, t.normalizeError(err), received)
}

func (t *task) emitCompletion(resp *http.Response, err error, received int64) {
	t.sd.taskDidCollectMetrics(t.id, t.metrics.snapshot(t.sent.Load(), received, t.attempt))
	t.sd.taskDidComplete(t.id, resp, err)
}

// normalizeError surfaces the cancellation cause instead of the bare
// context error, so a cancelled request reports ErrCancelled and an
// invalidated session reports ErrSessionInvalidated.
func (t *task) normalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if cause := context.Cause(t.wire.Context()); cause != nil {
			return cause
		}
	}
	return err
}

// instrumentBody wraps an upload body so reads pause with the request and
// report cumulative progress. Unknown lengths report a total of -1.
func (t *task) instrumentBody(body io.ReadCloser) io.ReadCloser {
	total := t.wire.ContentLength
	if total == 0 {
		total = -1
	}
	var lastSent int64
	paced := &pauseReader{pause: t.pause, ctx: t.wire.Context(), inner: body}
	return &countingReader{
		r:     paced,
		total: total,
		fn: func(sent, total int64) {
			t.sent.Store(sent)
			delta := sent - lastSent
			lastSent = sent
			t.sd.taskDidSendBodyData(t.id, delta, sent, total)
		},
	}
}

// pauseReader blocks reads while the owning request is suspended.
type pauseReader struct {
	pause *pauseGate
	ctx   context.Context
	inner io.ReadCloser
}

func (p *pauseReader) Read(b []byte) (int, error) {
	if err := p.pause.wait(p.ctx); err != nil {
		return 0, err
	}
	return p.inner.Read(b)
}

func (p *pauseReader) Close() error { return p.inner.Close() }

// downloadTotal derives the expected byte count for a download, preferring
// the Content-Range total on partial responses. Returns -1 when unknown.
func downloadTotal(resp *http.Response, offset int64) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		if _, after, ok := strings.Cut(resp.Header.Get("Content-Range"), "/"); ok {
			if total, err := strconv.ParseInt(strings.TrimSpace(after), 10, 64); err == nil {
				return total
			}
		}
	}
	if resp.ContentLength < 0 {
		return -1
	}
	return resp.ContentLength + offset
}
