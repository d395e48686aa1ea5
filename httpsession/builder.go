package httpsession

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/net/http/httpguts"
)

// RequestConvertible produces the wire request a Session executes. A request
// holds its convertible for its whole lifetime and converts it again on every
// attempt, so retries re-encode bodies from scratch.
type RequestConvertible interface {
	WireRequest() (*http.Request, error)
}

// URLConvertible adapts a bare URL string into a GET request.
//
// Example:
//
//	session.Request(httpsession.URLConvertible("https://api.example.com/users"))
type URLConvertible string

// WireRequest implements RequestConvertible.
func (u URLConvertible) WireRequest() (*http.Request, error) {
	return http.NewRequest(http.MethodGet, string(u), nil)
}

// Wire adapts an existing *http.Request into a RequestConvertible. The
// request is cloned on every conversion so retries never observe a consumed
// body; bodies must therefore carry GetBody to be replayable.
func Wire(req *http.Request) RequestConvertible {
	return wireRequest{req: req}
}

type wireRequest struct {
	req *http.Request
}

func (w wireRequest) WireRequest() (*http.Request, error) {
	clone := w.req.Clone(w.req.Context())
	if w.req.Body != nil && w.req.GetBody != nil {
		body, err := w.req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}

// Builder provides a fluent API for constructing requests.
//
// Create a Builder with NewBuilder and hand it to Session.Request:
//
//	req := session.Request(httpsession.NewBuilder(http.MethodPost, "https://api.example.com/users/{id}").
//	    PathParam("id", userID).
//	    Header("Idempotency-Key", key).
//	    BodyJSON(user))
//
// The first encoding or validation failure is latched and surfaced by
// WireRequest; later calls never clear it.
type Builder struct {
	method     string
	rawURL     string
	pathParams map[string]string
	query      url.Values
	headers    http.Header

	bodyBytes   []byte
	bodyReader  io.Reader
	contentType string

	err error
}

// NewBuilder creates a Builder for the given method and URL. The URL may
// contain {name} placeholders filled with PathParam.
func NewBuilder(method, rawURL string) *Builder {
	return &Builder{
		method:     method,
		rawURL:     rawURL,
		pathParams: make(map[string]string),
		headers:    make(http.Header),
	}
}

// PathParam sets a path parameter value.
//
// Path parameters are replaced in the URL using {name} syntax.
//
// Example:
//
//	httpsession.NewBuilder(http.MethodGet, "https://api.example.com/users/{id}/posts/{postId}").
//	    PathParam("id", userID).
//	    PathParam("postId", postID)
func (b *Builder) PathParam(key, value string) *Builder {
	b.pathParams[key] = value
	return b
}

// Query adds a single query parameter.
func (b *Builder) Query(key, value string) *Builder {
	if b.query == nil {
		b.query = make(url.Values)
	}
	b.query.Add(key, value)
	return b
}

// Queries adds multiple query parameters.
func (b *Builder) Queries(params map[string]string) *Builder {
	if b.query == nil {
		b.query = make(url.Values)
	}
	for k, v := range params {
		b.query.Set(k, v)
	}
	return b
}

// Header sets a single request header. Invalid field names or values latch an
// error instead of producing a malformed wire request.
func (b *Builder) Header(key, value string) *Builder {
	if !httpguts.ValidHeaderFieldName(key) {
		b.setErr(fmt.Errorf("invalid header field name %q", key))
		return b
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		b.setErr(fmt.Errorf("invalid value for header field %q", key))
		return b
	}
	b.headers.Set(key, value)
	return b
}

// Headers sets multiple request headers.
func (b *Builder) Headers(headers map[string]string) *Builder {
	for k, v := range headers {
		b.Header(k, v)
	}
	return b
}

// Accept sets the Accept header from a list of media types.
func (b *Builder) Accept(mediaTypes ...string) *Builder {
	return b.Header("Accept", strings.Join(mediaTypes, ", "))
}

// BodyJSON encodes v as JSON and sets Content-Type: application/json.
//
// Example:
//
//	httpsession.NewBuilder(http.MethodPost, url).BodyJSON(user)
func (b *Builder) BodyJSON(v any) *Builder {
	if v == nil {
		return b
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.setErr(err)
		return b
	}
	b.bodyBytes = data
	b.contentType = "application/json"
	return b
}

// BodyXML encodes v as XML and sets Content-Type: application/xml.
func (b *Builder) BodyXML(v any) *Builder {
	if v == nil {
		return b
	}
	data, err := xml.Marshal(v)
	if err != nil {
		b.setErr(err)
		return b
	}
	b.bodyBytes = data
	b.contentType = "application/xml"
	return b
}

// BodyForm sets form data as the request body with
// Content-Type: application/x-www-form-urlencoded.
func (b *Builder) BodyForm(data map[string]string) *Builder {
	values := make(url.Values)
	for k, v := range data {
		values.Set(k, v)
	}
	b.bodyBytes = []byte(values.Encode())
	b.contentType = "application/x-www-form-urlencoded"
	return b
}

// BodyString sets a plain text request body.
func (b *Builder) BodyString(s string) *Builder {
	b.bodyBytes = []byte(s)
	b.contentType = "text/plain; charset=utf-8"
	return b
}

// BodyBytes sets a raw request body with the given content type.
func (b *Builder) BodyBytes(data []byte, contentType string) *Builder {
	b.bodyBytes = data
	b.contentType = contentType
	return b
}

// BodyReader sets a streaming request body. Unlike the byte-backed Body
// variants the reader is consumed once, so a retried attempt sends an empty
// body. Prefer BodyBytes or BodyJSON when the request may be retried.
func (b *Builder) BodyReader(r io.Reader, contentType string) *Builder {
	b.bodyReader = r
	b.contentType = contentType
	return b
}

// WireRequest implements RequestConvertible. Byte-backed bodies get a fresh
// reader per call.
func (b *Builder) WireRequest() (*http.Request, error) {
	if b.err != nil {
		return nil, b.err
	}

	targetURL, err := b.buildURL()
	if err != nil {
		return nil, err
	}

	var body io.Reader
	switch {
	case b.bodyBytes != nil:
		body = bytes.NewReader(b.bodyBytes)
	case b.bodyReader != nil:
		body = b.bodyReader
	}

	req, err := http.NewRequest(b.method, targetURL, body)
	if err != nil {
		return nil, err
	}

	for k, v := range b.headers {
		req.Header[k] = v
	}
	if b.contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", b.contentType)
	}
	return req, nil
}

// buildURL replaces path parameters and merges query values.
func (b *Builder) buildURL() (string, error) {
	target := b.rawURL
	for k, v := range b.pathParams {
		target = strings.ReplaceAll(target, "{"+k+"}", url.PathEscape(v))
	}

	if len(b.query) == 0 {
		return target, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range b.query {
		for _, vv := range v {
			q.Add(k, vv)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}
