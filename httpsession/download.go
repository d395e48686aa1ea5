package httpsession

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// DownloadRequest streams its response body to disk instead of memory.
// The body lands in a temporary file, moves to the configured destination,
// and serializes from there.
type DownloadRequest struct {
	*Request
}

// DestinationOptions control how a finished download moves into place.
type DestinationOptions struct {
	// CreateIntermediateDirectories creates the destination's parent
	// directories as needed.
	CreateIntermediateDirectories bool
	// RemovePreviousFile deletes an existing file at the destination
	// before the move.
	RemovePreviousFile bool
}

// Destination picks where a finished download lands. It runs on the
// session delegate queue after the body is fully written to tempPath.
// Returning an empty path keeps the temporary file in place.
type Destination func(resp *http.Response, tempPath string) (string, DestinationOptions)

// DestinationPath stores downloads at a fixed path, creating parent
// directories and replacing any previous file.
func DestinationPath(dst string) Destination {
	return func(*http.Response, string) (string, DestinationOptions) {
		return dst, DestinationOptions{CreateIntermediateDirectories: true, RemovePreviousFile: true}
	}
}

// SuggestedDestination stores downloads in dir under the name the
// response suggests: the Content-Disposition filename when present,
// otherwise the last element of the request path.
func SuggestedDestination(dir string) Destination {
	return func(resp *http.Response, _ string) (string, DestinationOptions) {
		return filepath.Join(dir, suggestedFilename(resp)), DestinationOptions{CreateIntermediateDirectories: true, RemovePreviousFile: true}
	}
}

func suggestedFilename(resp *http.Response) string {
	if resp == nil {
		return "download"
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		if name := filepath.Base(params["filename"]); name != "" && name != "." && name != string(filepath.Separator) {
			return name
		}
	}
	if resp.Request != nil && resp.Request.URL != nil {
		if name := path.Base(resp.Request.URL.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return "download"
}

// resumeState is the blob a cancelled download hands back so a later
// request can continue where it stopped. ETag and Last-Modified feed the
// If-Range header of the resumed request.
type resumeState struct {
	URL          string `json:"url"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	TempPath     string `json:"temp_path"`
	Offset       int64  `json:"offset"`
}

// FilePath is where the downloaded file ended up. Empty until the
// download finishes; the temporary path when the destination move failed.
func (r *DownloadRequest) FilePath() string { return r.filePathSnapshot() }

// ResumeData is the blob recorded by CancelProducingResumeData, nil
// otherwise. Feed it to Session.DownloadResume to continue the transfer.
func (r *DownloadRequest) ResumeData() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumeOutput
}

// DownloadProgress registers a callback for file write progress. The
// callback runs on the session delegate queue; keep it brief.
func (r *DownloadRequest) DownloadProgress(fn ProgressHandler) *DownloadRequest {
	r.mu.Lock()
	r.downloadProgress = fn
	r.mu.Unlock()
	return r
}

// Validate applies the default download validation: a 2xx status and a
// content type the request's Accept header allows.
func (r *DownloadRequest) Validate() *DownloadRequest {
	return r.ValidateWith(defaultDownloadValidation)
}

// ValidateWith appends validators that run in attachment order against
// each finished attempt, under the same rules as data validation.
func (r *DownloadRequest) ValidateWith(fns ...DownloadValidationFunc) *DownloadRequest {
	for _, fn := range fns {
		r.appendValidator(func(wire *http.Request, resp *http.Response) error {
			return fn(wire, resp, r.filePathSnapshot())
		})
	}
	return r
}

// VerifySHA256 checks the finished file against a hex digest before
// handlers run. A mismatch fails the request with a ChecksumError.
func (r *DownloadRequest) VerifySHA256(hexDigest string) *DownloadRequest {
	r.mu.Lock()
	r.checksum = hexDigest
	r.mu.Unlock()
	return r
}

// CancelProducingResumeData cancels like Cancel but keeps the partial
// file and records a resume blob when any bytes were written. ResumeData
// holds the blob once the request finishes.
func (r *DownloadRequest) CancelProducingResumeData() {
	r.produceResume.Store(true)
	r.cancelWithCause(ErrCancelled)
}

// ResponseFile delivers the final file path.
func (r *DownloadRequest) ResponseFile(handler func(DownloadResponse[string]), opts ...HandlerOption) *DownloadRequest {
	return ResponseDownload(r, FilePathSerializer{}, handler, opts...)
}

// ResponseDownload attaches a response handler backed by an arbitrary
// download serializer, under the same exactly-once and ordering rules as
// ResponseDecodable.
func ResponseDownload[T any](r *DownloadRequest, serializer DownloadSerializer[T], handler func(DownloadResponse[T]), opts ...HandlerOption) *DownloadRequest {
	cfg := newHandlerConfig(opts)
	r.appendHandler(func() {
		wire, resp, filePath, resumeData, metrics, cause := r.downloadSnapshot()
		value, err := serializer.SerializeDownload(wire, resp, filePath, cause)
		r.session.monitor.requestDidSerializeResponse(r.Request, err)
		result := DownloadResponse[T]{
			Request:    wire,
			Response:   resp,
			FilePath:   filePath,
			ResumeData: resumeData,
			Metrics:    metrics,
			Value:      value,
			Err:        err,
		}
		cfg.dispatch(func() { handler(result) })
	})
	return r
}

func (r *Request) filePathSnapshot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filePath
}

// moveFile renames src to dst, falling back to copy and remove when the
// rename crosses filesystems.
func moveFile(src, dst string, opts DestinationOptions) error {
	if opts.CreateIntermediateDirectories {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
	}
	if opts.RemovePreviousFile {
		if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func fileSHA256(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
