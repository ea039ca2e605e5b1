// Package model holds the wire-level and request-level types shared between
// the gateway's routing, retry, and dispatch components.
package model

// Header is a single (name, value) pair as carried on the backend wire
// protocol. Order and duplicates are significant and preserved verbatim.
type Header struct {
	Name  string
	Value string
}

// RequestMeta is the HTTP meta-frame sent to a backend application as the
// first positional argument of the payload call. The body is carried as a
// plain byte sequence; callers that need the bytes-in-string wire convention
// should use the codec in internal/wire rather than assuming UTF-8 here.
type RequestMeta struct {
	Method  string
	URI     string
	Version string
	Headers []Header
	Body    []byte
}

// ResponseMeta is the decoded form of the first data frame of a backend
// response stream.
type ResponseMeta struct {
	Code    int64
	Headers []Header
}

// ClampStatus clamps an out-of-range ResponseMeta.Code to 500, per the
// documented ambiguity: the field is a 32-bit integer but only values in
// [100, 599] are meaningful HTTP statuses.
func ClampStatus(code int64) int {
	if code < 100 || code > 599 {
		return 500
	}
	return int(code)
}

// Response is the fully assembled reply the Response Dispatcher hands back
// to an attempt once a backend call's frames have been consumed to a
// terminal state.
type Response struct {
	Status  int
	Headers []Header
	Body    []byte
}

// HeaderValue returns the first value of the named header, case-sensitively
// (backend headers are not canonicalized the way net/http canonicalizes
// HTTP/1.1 header names).
func (r *Response) HeaderValue(name string) (string, bool) {
	for _, h := range r.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// AddHeader appends a header, preserving duplicates.
func (r *Response) AddHeader(name, value string) {
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}
