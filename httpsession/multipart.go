package httpsession

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// MultipartForm assembles a multipart/form-data upload. Parts are
// declared up front and stream in append order when the body resolves;
// files are opened lazily, once per attempt. The boundary is fixed at
// construction so every attempt sends an identical body.
//
// MultipartForm implements Uploadable; hand it to Session.Upload.
type MultipartForm struct {
	boundary string
	parts    []formPart
}

type formPart struct {
	fieldName   string
	fileName    string
	contentType string
	open        func() (io.ReadCloser, error)
}

func NewMultipartForm() *MultipartForm {
	return &MultipartForm{boundary: multipart.NewWriter(io.Discard).Boundary()}
}

// AppendValue adds a plain text field.
func (m *MultipartForm) AppendValue(fieldName, value string) *MultipartForm {
	m.parts = append(m.parts, formPart{
		fieldName: fieldName,
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(value)), nil
		},
	})
	return m
}

// AppendData adds a file part backed by an in-memory byte slice.
func (m *MultipartForm) AppendData(fieldName, fileName, contentType string, data []byte) *MultipartForm {
	m.parts = append(m.parts, formPart{
		fieldName:   fieldName,
		fileName:    fileName,
		contentType: contentType,
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	})
	return m
}

// AppendFile adds a file part streamed from disk. The part is named after
// the file and typed by its extension.
func (m *MultipartForm) AppendFile(fieldName, path string) *MultipartForm {
	m.parts = append(m.parts, formPart{
		fieldName:   fieldName,
		fileName:    filepath.Base(path),
		contentType: mime.TypeByExtension(filepath.Ext(path)),
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	})
	return m
}

// AppendReader adds a file part backed by an arbitrary reader factory,
// invoked once per attempt.
func (m *MultipartForm) AppendReader(fieldName, fileName, contentType string, open func() (io.ReadCloser, error)) *MultipartForm {
	m.parts = append(m.parts, formPart{
		fieldName:   fieldName,
		fileName:    fileName,
		contentType: contentType,
		open:        open,
	})
	return m
}

// ContentType is the multipart media type including the boundary.
func (m *MultipartForm) ContentType() string {
	return "multipart/form-data; boundary=" + m.boundary
}

// Resolve encodes the form through a pipe so large files never buffer in
// memory. The length is unknown by construction.
func (m *MultipartForm) Resolve() (io.ReadCloser, int64, string, error) {
	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)
	if err := w.SetBoundary(m.boundary); err != nil {
		pr.Close()
		return nil, 0, "", err
	}
	parts := slices.Clone(m.parts)
	go func() {
		for _, p := range parts {
			if err := p.encode(w); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(w.Close())
	}()
	return pr, -1, m.ContentType(), nil
}

func (p formPart) encode(w *multipart.Writer) error {
	h := make(textproto.MIMEHeader)
	if p.fileName != "" {
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(p.fieldName), quoteEscaper.Replace(p.fileName)))
	} else {
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, quoteEscaper.Replace(p.fieldName)))
	}
	if p.contentType != "" {
		h.Set("Content-Type", p.contentType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	body, err := p.open()
	if err != nil {
		return err
	}
	_, err = io.Copy(part, body)
	cerr := body.Close()
	if err != nil {
		return err
	}
	return cerr
}
