// Package message defines the request and response models webcc parses
// from and serializes to the wire, independent of how the bytes were
// transported (client socket read, server connection read).
package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rawcore/webcc/pkg/body"
	"github.com/rawcore/webcc/pkg/header"
	"github.com/rawcore/webcc/pkg/urlval"
)

// HTTP methods, matching webcc's methods namespace.
const (
	MethodGet     = "GET"
	MethodHead    = "HEAD"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodDelete  = "DELETE"
	MethodConnect = "CONNECT"
	MethodOptions = "OPTIONS"
	MethodTrace   = "TRACE"
	MethodPatch   = "PATCH"
)

// ContentLengthUnknown is the sentinel Content-Length value meaning "no
// Content-Length header was present and the body isn't chunked either" —
// the framing is unknown until the connection closes or a View decides it.
const ContentLengthUnknown int64 = -1

// Status codes webcc's original C++ core names explicitly. Anything else is
// still valid — StatusText falls back to a generic label.
const (
	StatusOK                  = 200
	StatusCreated             = 201
	StatusAccepted            = 202
	StatusNoContent           = 204
	StatusNotModified         = 304
	StatusBadRequest          = 400
	StatusUnauthorized        = 401
	StatusForbidden           = 403
	StatusNotFound            = 404
	StatusMethodNotAllowed    = 405
	StatusRequestTimeout      = 408
	StatusInternalServerError = 500
	StatusNotImplemented      = 501
	StatusBadGateway          = 502
	StatusServiceUnavailable  = 503
	StatusGatewayTimeout      = 504
)

var statusText = map[int]string{
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	408: "Request Timeout",
	409: "Conflict",
	411: "Length Required",
	413: "Payload Too Large",
	415: "Unsupported Media Type",
	429: "Too Many Requests",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// StatusText returns the reason phrase for a status code, or "Unknown" if
// the code isn't in the table.
func StatusText(code int) string {
	if t, ok := statusText[code]; ok {
		return t
	}
	return "Unknown"
}

// StartLine is the common parsed shape of a request line or status line.
type StartLine struct {
	// Request-line fields.
	Method        string
	RequestTarget string

	// Status-line fields.
	StatusCode int
	Reason     string

	// Shared.
	Major, Minor int // HTTP version, e.g. 1, 1
}

// Proto renders "HTTP/<major>.<minor>".
func (s StartLine) Proto() string {
	return fmt.Sprintf("HTTP/%d.%d", s.Major, s.Minor)
}

// Message is the shared envelope of a Request or Response: a start line,
// an ordered header set, and an optional body.
type Message struct {
	Major, Minor  int
	Header        *header.Header
	Body          body.Body
	ContentLength int64 // ContentLengthUnknown if absent and not chunked
	Chunked       bool
}

// Request is a parsed or to-be-sent HTTP request.
type Request struct {
	Message
	Method string
	URL    *urlval.URL
	Host   string

	// Args holds a pattern route's regex capture groups, in order. It is
	// only populated server-side, after routing, and is empty for a
	// literal-path match or for any client-built request.
	Args []string
}

// NewRequest builds a Request ready to serialize, filling in Host and
// Content-Length from the URL and body. The Host value carries the port only
// when it differs from the scheme's default.
func NewRequest(method string, u *urlval.URL, b body.Body) *Request {
	host := u.Host
	if def := (&urlval.URL{Scheme: u.Scheme}).EffectivePort(); u.Port != 0 && u.Port != def {
		host = u.HostPort()
	}
	req := &Request{
		Message: Message{
			Major:  1,
			Minor:  1,
			Header: header.New(),
		},
		Method: method,
		URL:    u,
		Host:   host,
	}
	req.Header.Set(header.Host, req.Host)
	req.SetBody(b)
	return req
}

// SetBody attaches b to the request and updates Content-Length/Content-Type
// headers accordingly.
func (r *Request) SetBody(b body.Body) {
	r.Body = b
	if b == nil {
		r.ContentLength = 0
		r.Header.Del(header.ContentLength)
		return
	}
	r.ContentLength = b.Size()
	r.Header.Set(header.ContentLength, strconv.FormatInt(r.ContentLength, 10))
	if ct := b.ContentType(); ct != "" && !r.Header.Has(header.ContentType) {
		r.Header.Set(header.ContentType, ct)
	}
}

// RequestLine renders the request line.
func (r *Request) RequestLine() string {
	return fmt.Sprintf("%s %s HTTP/%d.%d", r.Method, r.URL.RequestTarget(), r.Major, r.Minor)
}

// Dump renders a short human-readable summary for logging.
func (r *Request) Dump() string {
	var b strings.Builder
	b.WriteString(r.RequestLine())
	b.WriteString("\n")
	r.Header.Each(func(k, v string) {
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	})
	if r.Body != nil {
		b.WriteString("\n")
		b.WriteString(r.Body.Dump())
	}
	return b.String()
}

// Response is a parsed or to-be-sent HTTP response.
type Response struct {
	Message
	StatusCode int
	Reason     string
}

// NewResponse builds a Response ready to serialize.
func NewResponse(statusCode int, b body.Body) *Response {
	reason := StatusText(statusCode)
	resp := &Response{
		Message: Message{
			Major:  1,
			Minor:  1,
			Header: header.New(),
		},
		StatusCode: statusCode,
		Reason:     reason,
	}
	resp.SetBody(b)
	return resp
}

// SetBody attaches b to the response and updates Content-Length/Content-Type.
func (r *Response) SetBody(b body.Body) {
	r.Body = b
	if b == nil {
		r.ContentLength = 0
		r.Header.Set(header.ContentLength, "0")
		return
	}
	r.ContentLength = b.Size()
	r.Header.Set(header.ContentLength, strconv.FormatInt(r.ContentLength, 10))
	if ct := b.ContentType(); ct != "" && !r.Header.Has(header.ContentType) {
		r.Header.Set(header.ContentType, ct)
	}
}

// StatusLine renders the status line.
func (r *Response) StatusLine() string {
	return fmt.Sprintf("HTTP/%d.%d %d %s", r.Major, r.Minor, r.StatusCode, r.Reason)
}

// IsBodyless reports whether, per RFC 9110 §6.4.1, a response to this
// status code / request method must not carry a body regardless of any
// Content-Length header present.
func IsBodyless(statusCode int, requestMethod string) bool {
	if requestMethod == MethodHead {
		return true
	}
	if statusCode >= 100 && statusCode < 200 {
		return true
	}
	return statusCode == StatusNoContent || statusCode == StatusNotModified
}

// Dump renders a short human-readable summary for logging.
func (r *Response) Dump() string {
	var b strings.Builder
	b.WriteString(r.StatusLine())
	b.WriteString("\n")
	r.Header.Each(func(k, v string) {
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	})
	if r.Body != nil {
		b.WriteString("\n")
		b.WriteString(r.Body.Dump())
	}
	return b.String()
}
