package httpsession

import (
	"fmt"
	"net/http"
)

// maxRedirects matches the stdlib client's default hop limit.
const maxRedirects = 10

// Redirector decides how a redirect proposal is handled. It receives the
// upcoming wire request and the chain of requests made so far, oldest first,
// and returns the request to execute. The proposal may be mutated in place
// (URL, headers); the transport decides the method per RFC 9110, so method
// changes are ignored.
//
// Returning (nil, nil) stops following and surfaces the redirect response
// itself, headers and body intact, to the request's validators and handlers.
// Returning an error fails the attempt.
type Redirector interface {
	Redirect(proposed *http.Request, via []*http.Request) (*http.Request, error)
}

// RedirectorFunc adapts a function to a Redirector.
type RedirectorFunc func(proposed *http.Request, via []*http.Request) (*http.Request, error)

// Redirect implements Redirector.
func (f RedirectorFunc) Redirect(proposed *http.Request, via []*http.Request) (*http.Request, error) {
	return f(proposed, via)
}

// FollowRedirects follows proposals unchanged, up to the stdlib's ten-hop
// limit. This is the behavior of a session with no redirector configured.
var FollowRedirects Redirector = LimitRedirects(maxRedirects)

// DenyRedirects surfaces every redirect response instead of following it.
var DenyRedirects Redirector = RedirectorFunc(func(*http.Request, []*http.Request) (*http.Request, error) {
	return nil, nil
})

// LimitRedirects follows at most n redirects, then fails the attempt.
func LimitRedirects(n int) Redirector {
	return RedirectorFunc(func(proposed *http.Request, via []*http.Request) (*http.Request, error) {
		// via holds the initial request plus followed redirects.
		if len(via) > n {
			return nil, fmt.Errorf("httpsession: stopped after %d redirects", n)
		}
		return proposed, nil
	})
}
