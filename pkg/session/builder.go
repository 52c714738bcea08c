package session

import (
	"fmt"
	"time"

	"github.com/rawcore/webcc/pkg/body"
	"github.com/rawcore/webcc/pkg/compress"
	"github.com/rawcore/webcc/pkg/header"
	"github.com/rawcore/webcc/pkg/message"
	"github.com/rawcore/webcc/pkg/urlval"
)

// RequestBuilder accumulates a method, URL, query parameters, headers, and
// a body, then is consumed exactly once by Build to produce an immutable
// *message.Request. Calling any builder method after Build panics — a
// builder is single-use by design, matching the original session's
// request-args-are-moved-from ownership.
type RequestBuilder struct {
	method  string
	rawURL  string
	query   []urlval.QueryPair
	headers []headerKV
	body    body.Body
	gzip    bool
	built   bool
}

type headerKV struct{ key, value string }

// NewRequestBuilder starts a builder for method and rawURL (an absolute URL
// string; query parameters added via Query are appended to whatever query
// string rawURL already carries).
func NewRequestBuilder(method, rawURL string) *RequestBuilder {
	return &RequestBuilder{method: method, rawURL: rawURL}
}

func (b *RequestBuilder) checkNotBuilt() {
	if b.built {
		panic("session: RequestBuilder reused after Build")
	}
}

// Query appends one query parameter.
func (b *RequestBuilder) Query(key, value string) *RequestBuilder {
	b.checkNotBuilt()
	b.query = append(b.query, urlval.QueryPair{Key: key, Value: value})
	return b
}

// Header sets one request header, overriding any session default of the
// same name once the request is built.
func (b *RequestBuilder) Header(key, value string) *RequestBuilder {
	b.checkNotBuilt()
	b.headers = append(b.headers, headerKV{key, value})
	return b
}

// Bytes sets a raw body with an explicit Content-Type.
func (b *RequestBuilder) Bytes(data []byte, contentType string) *RequestBuilder {
	b.checkNotBuilt()
	b.body = body.NewStringBodyFrom(string(data), contentType)
	return b
}

// JSON sets the body to data with "application/json; charset=utf-8".
func (b *RequestBuilder) JSON(data []byte) *RequestBuilder {
	return b.Bytes(data, "application/json; charset=utf-8")
}

// XML sets the body to data with "application/xml; charset=utf-8".
func (b *RequestBuilder) XML(data []byte) *RequestBuilder {
	return b.Bytes(data, "application/xml; charset=utf-8")
}

// UTF8Text sets the body to s with "text/plain; charset=utf-8".
func (b *RequestBuilder) UTF8Text(s string) *RequestBuilder {
	return b.Bytes([]byte(s), "text/plain; charset=utf-8")
}

// File attaches a single-part multipart/form-data body carrying one file.
func (b *RequestBuilder) File(fieldName, filename, contentType string, data []byte) *RequestBuilder {
	b.checkNotBuilt()
	b.body = body.NewFormBody([]body.FormPart{
		{Name: fieldName, Filename: filename, ContentType: contentType, Data: data},
	}, "")
	return b
}

// Form attaches a multipart/form-data body with the given plain fields.
func (b *RequestBuilder) Form(fields map[string]string) *RequestBuilder {
	b.checkNotBuilt()
	parts := make([]body.FormPart, 0, len(fields))
	for name, value := range fields {
		parts = append(parts, body.FormPart{Name: name, Data: []byte(value)})
	}
	b.body = body.NewFormBody(parts, "")
	return b
}

// Gzip marks the request body for gzip compression when it is built,
// regardless of the session's default compression setting.
func (b *RequestBuilder) Gzip() *RequestBuilder {
	b.checkNotBuilt()
	b.gzip = true
	return b
}

// KeepAlive sets the Connection header explicitly, overriding the session
// default for this one request.
func (b *RequestBuilder) KeepAlive(enabled bool) *RequestBuilder {
	b.checkNotBuilt()
	if enabled {
		return b.Header(header.Connection, "keep-alive")
	}
	return b.Header(header.Connection, "close")
}

// Date stamps a Date header with t formatted per RFC 7231.
func (b *RequestBuilder) Date(t time.Time) *RequestBuilder {
	b.checkNotBuilt()
	return b.Header(header.Date, t.UTC().Format(http1Date))
}

const http1Date = "Mon, 02 Jan 2006 15:04:05 GMT"

// Build consumes the builder and produces the immutable request. It is an
// error to call Build twice on the same builder.
func (b *RequestBuilder) Build() (*message.Request, error) {
	b.checkNotBuilt()
	b.built = true

	u, err := urlval.Parse(b.rawURL)
	if err != nil {
		return nil, fmt.Errorf("session: invalid request URL: %w", err)
	}
	if len(b.query) > 0 {
		existing, _ := urlval.ParseQuery(u.RawQuery)
		u.RawQuery = urlval.EncodeQuery(append(existing, b.query...))
	}

	compressed := false
	if b.gzip {
		if sb, ok := b.body.(*body.StringBody); ok {
			data, _ := sb.Bytes()
			gzipped, gerr := body.NewStringBody(data, sb.ContentType(), true)
			if gerr == nil {
				b.body = gzipped
				compressed = compress.ShouldCompress(len(data))
			}
		}
	}

	req := message.NewRequest(b.method, u, b.body)
	if compressed {
		req.Header.Set(header.ContentEncoding, compress.Gzip)
	}
	for _, kv := range b.headers {
		req.Header.Set(kv.key, kv.value)
	}
	return req, nil
}
