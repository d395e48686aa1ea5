package httpsession

import (
	"mime"
	"net/http"
	"strings"
)

// ValidationFunc inspects a finished attempt and reports whether its response
// is acceptable. A non-nil return marks the response unacceptable; the first
// failure becomes the request's error, but validators added after it still
// run.
type ValidationFunc func(req *http.Request, resp *http.Response, data []byte) error

// DownloadValidationFunc is the download counterpart. It receives the path of
// the downloaded file instead of an in-memory body.
type DownloadValidationFunc func(req *http.Request, resp *http.Response, filePath string) error

// ValidateStatusCodes accepts only the given status codes.
//
// Example:
//
//	req.ValidateWith(httpsession.ValidateStatusCodes(200, 201, 204))
func ValidateStatusCodes(codes ...int) ValidationFunc {
	return func(_ *http.Request, resp *http.Response, _ []byte) error {
		return checkStatus(resp, codes)
	}
}

// ValidateStatusRange accepts status codes in [lo, hi).
func ValidateStatusRange(lo, hi int) ValidationFunc {
	return func(_ *http.Request, resp *http.Response, _ []byte) error {
		if resp == nil {
			return nil
		}
		if resp.StatusCode < lo || resp.StatusCode >= hi {
			return &ValidationError{Reason: ReasonUnacceptableStatusCode, StatusCode: resp.StatusCode}
		}
		return nil
	}
}

// ValidateContentTypes accepts only responses whose Content-Type matches one
// of the given media types. Types may use wildcards ("application/*", "*/*").
//
// An empty body passes regardless of type. A response with no Content-Type
// passes only when the accepted set contains the full wildcard.
func ValidateContentTypes(types ...string) ValidationFunc {
	return func(_ *http.Request, resp *http.Response, data []byte) error {
		if len(data) == 0 {
			return nil
		}
		return checkContentType(resp, types)
	}
}

// defaultValidation is the zero-argument Validate behavior: 2xx status codes
// and content types derived from the request's Accept header, or any type
// when no Accept was sent.
func defaultValidation(req *http.Request, resp *http.Response, data []byte) error {
	if err := ValidateStatusRange(200, 300)(req, resp, data); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return checkContentType(resp, acceptableTypes(req))
}

// defaultDownloadValidation mirrors defaultValidation for downloads; the
// presence of a file stands in for a non-empty body.
func defaultDownloadValidation(req *http.Request, resp *http.Response, filePath string) error {
	if err := ValidateStatusRange(200, 300)(req, resp, nil); err != nil {
		return err
	}
	if filePath == "" {
		return nil
	}
	return checkContentType(resp, acceptableTypes(req))
}

// DownloadValidation lifts a ValidationFunc into a DownloadValidationFunc so
// status and content-type validators apply to downloads. The body argument is
// always empty for downloads.
//
// Example:
//
//	req.ValidateWith(httpsession.DownloadValidation(httpsession.ValidateStatusCodes(200, 206)))
func DownloadValidation(fn ValidationFunc) DownloadValidationFunc {
	return func(req *http.Request, resp *http.Response, _ string) error {
		return fn(req, resp, nil)
	}
}

func checkStatus(resp *http.Response, acceptable []int) error {
	if resp == nil {
		return nil
	}
	for _, code := range acceptable {
		if resp.StatusCode == code {
			return nil
		}
	}
	return &ValidationError{Reason: ReasonUnacceptableStatusCode, StatusCode: resp.StatusCode}
}

func checkContentType(resp *http.Response, acceptable []string) error {
	if resp == nil {
		return nil
	}

	raw := resp.Header.Get("Content-Type")
	if raw == "" {
		for _, a := range acceptable {
			if a == "*/*" {
				return nil
			}
		}
		return &ValidationError{Reason: ReasonMissingContentType, Acceptable: acceptable}
	}

	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return &ValidationError{Reason: ReasonUnacceptableContentType, ContentType: raw, Acceptable: acceptable}
	}
	for _, a := range acceptable {
		if mediaTypeMatches(a, mediaType) {
			return nil
		}
	}
	return &ValidationError{Reason: ReasonUnacceptableContentType, ContentType: mediaType, Acceptable: acceptable}
}

// acceptableTypes derives the accepted media types from the request's Accept
// header, falling back to the full wildcard.
func acceptableTypes(req *http.Request) []string {
	if req == nil {
		return []string{"*/*"}
	}
	accept := req.Header.Get("Accept")
	if accept == "" {
		return []string{"*/*"}
	}
	parts := strings.Split(accept, ",")
	types := make([]string, 0, len(parts))
	for _, p := range parts {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		types = append(types, mediaType)
	}
	if len(types) == 0 {
		return []string{"*/*"}
	}
	return types
}

// mediaTypeMatches reports whether got matches the want pattern, where either
// side of want may be "*".
func mediaTypeMatches(want, got string) bool {
	wantType, wantSub, ok := strings.Cut(want, "/")
	if !ok {
		return false
	}
	gotType, gotSub, ok := strings.Cut(got, "/")
	if !ok {
		return false
	}
	if wantType != "*" && !strings.EqualFold(wantType, gotType) {
		return false
	}
	if wantSub != "*" && !strings.EqualFold(wantSub, gotSub) {
		return false
	}
	return true
}
