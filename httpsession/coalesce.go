package httpsession

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"
)

// ============================================================================
// Request Coalescing
// ============================================================================

// coalescingTransport deduplicates identical concurrent GET and HEAD
// requests. One wire request runs per key; every concurrent caller
// receives a copy of its response. Requests with a Range header bypass
// coalescing so resumed downloads never share a partial body.
type coalescingTransport struct {
	next  http.RoundTripper
	group singleflight.Group
}

func newCoalescingTransport(next http.RoundTripper) *coalescingTransport {
	return &coalescingTransport{next: next}
}

// coalescedResult is the shared outcome of one wire request. The body is
// buffered so each caller gets an independent reader.
type coalescedResult struct {
	resp *http.Response
	body []byte
}

func (t *coalescingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !coalescable(req) {
		return t.next.RoundTrip(req)
	}

	key := coalesceKey(req)
	ch := t.group.DoChan(key, func() (any, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		closeErr := resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if closeErr != nil {
			return nil, closeErr
		}
		return &coalescedResult{resp: resp, body: body}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*coalescedResult).response(), nil
	case <-req.Context().Done():
		// The in-flight leader keeps running for the remaining waiters.
		return nil, context.Cause(req.Context())
	}
}

// response materializes an independent copy for one caller.
func (r *coalescedResult) response() *http.Response {
	out := new(http.Response)
	*out = *r.resp
	out.Header = r.resp.Header.Clone()
	out.Body = io.NopCloser(bytes.NewReader(r.body))
	out.ContentLength = int64(len(r.body))
	return out
}

func (t *coalescingTransport) Unwrap() http.RoundTripper { return t.next }

func coalescable(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	if req.Header.Get("Range") != "" {
		return false
	}
	return true
}

// coalesceKey derives a stable key from the method, target, and sorted
// query so semantically identical requests collide regardless of query
// parameter order.
func coalesceKey(req *http.Request) string {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte('|')
	b.WriteString(req.URL.Scheme)
	b.WriteString("://")
	b.WriteString(req.URL.Host)
	b.WriteString(req.URL.Path)
	b.WriteByte('|')

	query := req.URL.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values := query[k]
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
			b.WriteByte('&')
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
