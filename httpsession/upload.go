package httpsession

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// Uploadable supplies a request body. It is resolved fresh for every
// attempt, so retries and replayed redirects always send the full body.
type Uploadable interface {
	// Resolve returns the body reader, its length in bytes (-1 when
	// unknown), and the content type to use when the request carries
	// none.
	Resolve() (body io.ReadCloser, contentLength int64, contentType string, err error)
}

// DataUpload uploads an in-memory byte slice.
type DataUpload struct {
	Data        []byte
	ContentType string
}

func (u DataUpload) Resolve() (io.ReadCloser, int64, string, error) {
	return io.NopCloser(bytes.NewReader(u.Data)), int64(len(u.Data)), u.ContentType, nil
}

// FileUpload streams a file from disk, reopened on every attempt. An
// empty ContentType falls back to the extension's registered type.
type FileUpload struct {
	Path        string
	ContentType string
}

func (u FileUpload) Resolve() (io.ReadCloser, int64, string, error) {
	f, err := os.Open(u.Path)
	if err != nil {
		return nil, 0, "", err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, "", err
	}
	ct := u.ContentType
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(u.Path))
	}
	return f, info.Size(), ct, nil
}

// ReaderUpload streams an arbitrary reader. Open runs once per attempt;
// return an error from it to refuse a retry whose stream cannot be
// replayed. A zero ContentLength is reported as unknown.
type ReaderUpload struct {
	ContentLength int64
	ContentType   string
	Open          func() (io.ReadCloser, error)
}

func (u ReaderUpload) Resolve() (io.ReadCloser, int64, string, error) {
	if u.Open == nil {
		return nil, 0, "", errors.New("httpsession: ReaderUpload.Open is nil")
	}
	body, err := u.Open()
	if err != nil {
		return nil, 0, "", err
	}
	length := u.ContentLength
	if length <= 0 {
		length = -1
	}
	return body, length, u.ContentType, nil
}
