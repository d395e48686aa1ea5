package httpsession

import "io"

// Progress describes how far a transfer has advanced. Total is -1 when the
// peer did not announce a length.
type Progress struct {
	Completed int64
	Total     int64
}

// Fraction returns the completed fraction in [0, 1], or 0 when the total is
// unknown.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Completed) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Indeterminate reports whether the transfer length is unknown.
func (p Progress) Indeterminate() bool { return p.Total < 0 }

// ProgressHandler receives transfer progress updates.
type ProgressHandler func(Progress)

// countingReader wraps an upload body and reports cumulative bytes read to
// the callback. The transport reads bodies from a single goroutine, so no
// locking is needed.
type countingReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    func(sent, total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sent += int64(n)
		if c.fn != nil {
			c.fn(c.sent, c.total)
		}
	}
	return n, err
}

func (c *countingReader) Close() error {
	if closer, ok := c.r.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
