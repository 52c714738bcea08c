// Package session implements the client-facing Session (component I) and
// its RequestBuilder (component J): a Session holds default headers and
// owns exactly one connection pool, and a builder accumulates a request's
// shape before being consumed once into an immutable message.Request.
package session

import (
	"context"

	"github.com/rawcore/webcc/pkg/client"
	"github.com/rawcore/webcc/pkg/header"
	"github.com/rawcore/webcc/pkg/message"
)

// Session sends requests sharing one connection pool and one set of default
// headers, merged under request-overrides-session (case-insensitive).
type Session struct {
	client      *client.Client
	defaultHdrs *header.Header
}

// New creates a Session with its own connection pool and client Options.
func New(opts client.Options) *Session {
	return &Session{
		client:      client.New(opts),
		defaultHdrs: header.New(),
	}
}

// SetHeader sets a default header sent with every request from this
// session, unless the request itself sets the same header.
func (s *Session) SetHeader(key, value string) {
	s.defaultHdrs.Set(key, value)
}

// SetContentType sets the session-wide default Content-Type.
func (s *Session) SetContentType(contentType string) {
	s.defaultHdrs.Set(header.ContentType, contentType)
}

// Close shuts down the session's connection pool.
func (s *Session) Close() error {
	return s.client.Close()
}

// Client exposes the underlying client, for example for pool statistics.
// Each Session owns its own client and pool.
func (s *Session) Client() *client.Client { return s.client }

// Do sends a request built by a RequestBuilder, merging in session default
// headers for anything the request didn't set itself.
func (s *Session) Do(ctx context.Context, req *message.Request) (*client.Result, error) {
	s.defaultHdrs.Each(func(k, v string) {
		if !req.Header.Has(k) {
			req.Header.Set(k, v)
		}
	})
	return s.client.Do(ctx, req)
}

// request is the shared helper behind the Head/Get/Post/Put/Delete verbs:
// build a request for method+url with query and header key/value pairs
// (each pair is two consecutive strings), then send it.
func (s *Session) request(ctx context.Context, method, url string, query, headers []string, b *RequestBuilder) (*client.Result, error) {
	rb := b
	if rb == nil {
		rb = NewRequestBuilder(method, url)
	}
	for i := 0; i+1 < len(query); i += 2 {
		rb.Query(query[i], query[i+1])
	}
	for i := 0; i+1 < len(headers); i += 2 {
		rb.Header(headers[i], headers[i+1])
	}
	req, err := rb.Build()
	if err != nil {
		return nil, err
	}
	return s.Do(ctx, req)
}

// Head sends a HEAD request. query and headers are flattened key/value pairs.
func (s *Session) Head(ctx context.Context, url string, query, headers []string) (*client.Result, error) {
	return s.request(ctx, message.MethodHead, url, query, headers, nil)
}

// Get sends a GET request.
func (s *Session) Get(ctx context.Context, url string, query, headers []string) (*client.Result, error) {
	return s.request(ctx, message.MethodGet, url, query, headers, nil)
}

// Post sends a POST request with the given builder already carrying a body
// (use NewRequestBuilder(message.MethodPost, url).JSON(...) etc., then pass
// it here so Post can still merge in query/header pairs before Build).
func (s *Session) Post(ctx context.Context, url string, query, headers []string, b *RequestBuilder) (*client.Result, error) {
	if b == nil {
		b = NewRequestBuilder(message.MethodPost, url)
	}
	return s.request(ctx, message.MethodPost, url, query, headers, b)
}

// Put sends a PUT request; see Post for the builder convention.
func (s *Session) Put(ctx context.Context, url string, query, headers []string, b *RequestBuilder) (*client.Result, error) {
	if b == nil {
		b = NewRequestBuilder(message.MethodPut, url)
	}
	return s.request(ctx, message.MethodPut, url, query, headers, b)
}

// Delete sends a DELETE request.
func (s *Session) Delete(ctx context.Context, url string, query, headers []string) (*client.Result, error) {
	return s.request(ctx, message.MethodDelete, url, query, headers, nil)
}

