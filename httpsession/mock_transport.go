package httpsession

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
)

// MockTransport is a configurable http.RoundTripper for tests. Stub
// responses by path, method, or predicate, then pass it to the session
// with WithTransport. First matching stub wins; the default stub catches
// everything else.
//
// Example:
//
//	mock := httpsession.NewMockTransport().
//	    StubPathJSON("/users/1", 200, `{"id": 1}`).
//	    StubResponse(404, "not found")
//
//	session := httpsession.New(httpsession.WithTransport(mock))
type MockTransport struct {
	mu          sync.Mutex
	stubs       []mockStub
	defaultStub *mockStub
	requests    []*http.Request
	bodies      [][]byte
	requestHook func(*http.Request)
}

type mockStub struct {
	matcher func(*http.Request) bool
	status  int
	header  http.Header
	body    []byte
	err     error
}

// respond builds a fresh response so every caller gets an independent
// body reader.
func (st *mockStub) respond(req *http.Request) (*http.Response, error) {
	if st.err != nil {
		return nil, st.err
	}
	header := st.header
	if header == nil {
		header = make(http.Header)
	} else {
		header = header.Clone()
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", st.status, http.StatusText(st.status)),
		StatusCode:    st.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(st.body)),
		ContentLength: int64(len(st.body)),
		Request:       req,
	}, nil
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// StubResponse sets the default response for requests no other stub
// matches.
func (m *MockTransport) StubResponse(status int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &mockStub{status: status, body: []byte(body)}
	return m
}

// StubJSON sets the default response with a JSON content type.
func (m *MockTransport) StubJSON(status int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &mockStub{status: status, header: jsonHeader(), body: []byte(body)}
	return m
}

// StubError makes every unmatched request fail with err.
func (m *MockTransport) StubError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &mockStub{err: err}
	return m
}

// StubPath stubs requests whose URL path equals path.
func (m *MockTransport) StubPath(path string, status int, body string) *MockTransport {
	return m.StubFunc(func(req *http.Request) bool {
		return req.URL.Path == path
	}, status, body)
}

// StubPathJSON stubs a path with a JSON content type.
func (m *MockTransport) StubPathJSON(path string, status int, body string) *MockTransport {
	m.appendStub(mockStub{
		matcher: func(req *http.Request) bool { return req.URL.Path == path },
		status:  status,
		header:  jsonHeader(),
		body:    []byte(body),
	})
	return m
}

// StubPathRegex stubs requests whose URL path matches pattern.
func (m *MockTransport) StubPathRegex(pattern string, status int, body string) *MockTransport {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(req *http.Request) bool {
		return re.MatchString(req.URL.Path)
	}, status, body)
}

// StubMethod stubs requests with the given method.
func (m *MockTransport) StubMethod(method string, status int, body string) *MockTransport {
	return m.StubFunc(func(req *http.Request) bool {
		return req.Method == method
	}, status, body)
}

// StubFunc stubs requests matching the predicate.
func (m *MockTransport) StubFunc(matcher func(*http.Request) bool, status int, body string) *MockTransport {
	m.appendStub(mockStub{matcher: matcher, status: status, body: []byte(body)})
	return m
}

// StubFuncError fails requests matching the predicate with err.
func (m *MockTransport) StubFuncError(matcher func(*http.Request) bool, err error) *MockTransport {
	m.appendStub(mockStub{matcher: matcher, err: err})
	return m
}

// WithHeader sets a header on the most recently added stub.
func (m *MockTransport) WithHeader(key, value string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st *mockStub
	if n := len(m.stubs); n > 0 {
		st = &m.stubs[n-1]
	} else if m.defaultStub != nil {
		st = m.defaultStub
	} else {
		return m
	}
	if st.header == nil {
		st.header = make(http.Header)
	}
	st.header.Set(key, value)
	return m
}

// OnRequest registers a hook invoked with every request before it is
// matched.
func (m *MockTransport) OnRequest(fn func(*http.Request)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHook = fn
	return m
}

func (m *MockTransport) appendStub(st mockStub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, st)
}

func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Drain the body through the caller's reader so upload progress and
	// counting behave as they would against a real server.
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)
	hook := m.requestHook
	stubs := m.stubs
	def := m.defaultStub
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	for i := range stubs {
		if stubs[i].matcher(req) {
			return stubs[i].respond(req)
		}
	}
	if def != nil {
		return def.respond(req)
	}
	return nil, fmt.Errorf("httpsession: no stub for %s %s", req.Method, req.URL)
}

// Requests returns every request seen, in order.
func (m *MockTransport) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request{}, m.requests...)
}

// RequestCount is the number of requests seen.
func (m *MockTransport) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil.
func (m *MockTransport) LastRequest() *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// RequestBody returns the recorded body of request i.
func (m *MockTransport) RequestBody(i int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.bodies) {
		return nil
	}
	return m.bodies[i]
}

// Reset clears all stubs and recorded requests.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = nil
	m.defaultStub = nil
	m.requests = nil
	m.bodies = nil
	m.requestHook = nil
}

func jsonHeader() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return h
}
