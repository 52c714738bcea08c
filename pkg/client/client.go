// Package client implements the HTTP/1.1 client engine (component G): it
// takes a pkg/message.Request, dials or reuses a pooled pkg/socket
// connection, writes the request, and incrementally parses the response
// with pkg/parser, applying request compression and response decompression
// along the way.
package client

import (
	"context"
	"crypto/tls"
	"io"
	"strings"
	"time"

	"github.com/rawcore/webcc/pkg/body"
	"github.com/rawcore/webcc/pkg/buffer"
	"github.com/rawcore/webcc/pkg/compress"
	"github.com/rawcore/webcc/pkg/errors"
	"github.com/rawcore/webcc/pkg/header"
	"github.com/rawcore/webcc/pkg/message"
	"github.com/rawcore/webcc/pkg/parser"
	"github.com/rawcore/webcc/pkg/socket"
	"github.com/rawcore/webcc/pkg/timing"
)

// ProxyConfig is the client-facing name for socket.ProxyConfig, so callers
// building requests don't need to import pkg/socket for the common case.
type ProxyConfig = socket.ProxyConfig

// Options controls how the Client dials, reads, and compresses.
type Options struct {
	InsecureTLS      bool
	SNI              string
	DisableSNI       bool
	ConnTimeout      time.Duration
	DNSTimeout       time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ReuseConnection  bool
	BodyMemLimit     int64
	Gzip             bool // compress request StringBody payloads over the gzip threshold
	Proxy            *ProxyConfig
	CustomCACerts    [][]byte
	ClientCertPEM    []byte
	ClientKeyPEM     []byte
	ClientCertFile   string
	ClientKeyFile    string
	TLSConfig        *tls.Config
	MinTLSVersion    uint16
	MaxTLSVersion    uint16
	TLSRenegotiation tls.RenegotiationSupport
	CipherSuites     []uint16
	UserAgent        string
}

// DefaultOptions returns the client's baseline behavior: keep-alive on,
// gzip request compression on, a 10s connect timeout and 30s read timeout.
func DefaultOptions() Options {
	return Options{
		ConnTimeout:     10 * time.Second,
		ReadTimeout:     30 * time.Second,
		ReuseConnection: true,
		BodyMemLimit:    buffer.DefaultMemoryLimit,
		Gzip:            true,
		UserAgent:       "webcc/1.0",
	}
}

// Client sends requests over a shared connection pool.
type Client struct {
	pool *socket.Pool
	opts Options
}

// New creates a Client with its own connection pool.
func New(opts Options) *Client {
	return &Client{pool: socket.New(), opts: opts}
}

// NewWithPool creates a Client over an explicit, possibly shared, Pool —
// useful for callers that want to inspect pool statistics or share one
// pool across several Clients with different Options.
func NewWithPool(p *socket.Pool, opts Options) *Client {
	return &Client{pool: p, opts: opts}
}

// PoolStats reports the underlying pool's connection statistics.
func (c *Client) PoolStats() socket.Stats {
	return c.pool.Stats()
}

// Close shuts down the underlying pool, closing every pooled connection.
func (c *Client) Close() error {
	return c.pool.Close()
}

// Result bundles a parsed response with the connection metadata and timing
// breakdown collected while producing it.
type Result struct {
	Response *message.Response
	Metadata *socket.ConnectionMetadata
	Timings  timing.Metrics
}

// Do sends req and returns the parsed response. It performs one transparent
// retry when writing the request fails with an I/O error, the symptom of a
// pooled connection the peer had already closed since it was released. A
// failure while reading the response is not retried.
func (c *Client) Do(ctx context.Context, req *message.Request) (*Result, error) {
	c.prepare(req)

	res, err := c.attempt(ctx, req)
	if err == nil || !isStaleConnectionError(err) {
		return res, err
	}
	return c.attempt(ctx, req)
}

func (c *Client) prepare(req *message.Request) {
	if c.opts.UserAgent != "" && !req.Header.Has(header.UserAgent) {
		req.Header.Set(header.UserAgent, c.opts.UserAgent)
	}
	if !req.Header.Has(header.AcceptEncoding) {
		req.Header.Set(header.AcceptEncoding, "gzip, deflate")
	}
	if req.Header.Get(header.Connection) == "" {
		if c.opts.ReuseConnection {
			req.Header.Set(header.Connection, "keep-alive")
		} else {
			req.Header.Set(header.Connection, "close")
		}
	}
	c.maybeCompress(req)
}

// maybeCompress gzips an in-memory StringBody request payload once it clears
// compress.GzipThreshold, mirroring the request-side half of the wire
// encoding the response path already has to undo.
func (c *Client) maybeCompress(req *message.Request) {
	if !c.opts.Gzip || req.Body == nil || req.Header.Has(header.ContentEncoding) {
		return
	}
	sb, ok := req.Body.(*body.StringBody)
	if !ok {
		return
	}
	data, err := sb.Bytes()
	if err != nil || !compress.ShouldCompress(len(data)) {
		return
	}
	compressed, err := compress.EncodeGzip(data)
	if err != nil {
		return
	}
	nb := body.NewStringBodyFrom(string(compressed), sb.ContentType())
	req.SetBody(nb)
	req.Header.Set(header.ContentEncoding, compress.Gzip)
}

func (c *Client) attempt(ctx context.Context, req *message.Request) (*Result, error) {
	timer := timing.NewTimer()

	cfg := c.socketConfig(req)
	conn, meta, err := c.pool.Connect(ctx, cfg, timer)
	if err != nil {
		return nil, err
	}

	if c.opts.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if err := message.WriteRequest(conn, req); err != nil {
		c.pool.CloseConnectionWithMetadata(req.URL.Host, req.URL.EffectivePort(), conn, meta)
		return nil, err
	}

	if c.opts.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}

	timer.StartTTFB()
	bodyBuf := buffer.New(c.opts.BodyMemLimit)
	p := parser.NewResponseParser(req.Method, bodyBuf)
	readErr := parser.ReadFrom(conn, p)
	timer.EndTTFB()

	if readErr != nil {
		c.pool.CloseConnectionWithMetadata(req.URL.Host, req.URL.EffectivePort(), conn, meta)
		bodyBuf.Close()
		if errors.IsTimeoutError(readErr) {
			return nil, errors.NewTimeoutError("read response", c.opts.ReadTimeout)
		}
		return nil, readErr
	}

	resp := buildResponse(p, bodyBuf)

	if !c.opts.ReuseConnection || strings.EqualFold(resp.Header.Get(header.Connection), "close") {
		c.pool.CloseConnectionWithMetadata(req.URL.Host, req.URL.EffectivePort(), conn, meta)
	} else {
		c.pool.ReleaseConnectionWithMetadata(req.URL.Host, req.URL.EffectivePort(), conn, meta)
	}

	return &Result{Response: resp, Metadata: meta, Timings: timer.GetMetrics()}, nil
}

// buildResponse wraps the parser's buffered body into the right Body
// variant, decompressing it first if Content-Encoding says it's wire-coded.
func buildResponse(p *parser.Parser, bodyBuf *buffer.Buffer) *message.Response {
	sl := p.StartLine()
	contentType := p.Header().Get(header.ContentType)
	encoding := p.Header().Get(header.ContentEncoding)

	var b body.Body
	if encoding == "" || encoding == compress.Identity {
		fb, _ := body.NewFileBodyFromBuffer(bodyBuf, contentType)
		b = fb
	} else {
		raw := readAll(bodyBuf)
		decoded, err := compress.Decode(encoding, raw)
		if err != nil {
			decoded = raw
		}
		b = body.NewStringBodyFrom(string(decoded), contentType)
		bodyBuf.Close()
	}

	resp := &message.Response{
		Message: message.Message{
			Major:  sl.Major,
			Minor:  sl.Minor,
			Header: p.Header(),
		},
		StatusCode: sl.StatusCode,
		Reason:     sl.Reason,
	}
	resp.Body = b
	if b != nil {
		resp.ContentLength = b.Size()
	}
	return resp
}

func (c *Client) socketConfig(req *message.Request) socket.Config {
	return socket.Config{
		Scheme:           req.URL.Scheme,
		Host:             req.URL.Host,
		Port:             req.URL.EffectivePort(),
		SNI:              c.opts.SNI,
		DisableSNI:       c.opts.DisableSNI,
		InsecureTLS:      c.opts.InsecureTLS,
		ConnTimeout:      c.opts.ConnTimeout,
		DNSTimeout:       c.opts.DNSTimeout,
		ReadTimeout:      c.opts.ReadTimeout,
		WriteTimeout:     c.opts.WriteTimeout,
		ReuseConnection:  c.opts.ReuseConnection,
		Proxy:            c.opts.Proxy,
		CustomCACerts:    c.opts.CustomCACerts,
		ClientCertPEM:    c.opts.ClientCertPEM,
		ClientKeyPEM:     c.opts.ClientKeyPEM,
		ClientCertFile:   c.opts.ClientCertFile,
		ClientKeyFile:    c.opts.ClientKeyFile,
		TLSConfig:        c.opts.TLSConfig,
		MinTLSVersion:    c.opts.MinTLSVersion,
		MaxTLSVersion:    c.opts.MaxTLSVersion,
		TLSRenegotiation: c.opts.TLSRenegotiation,
		CipherSuites:     c.opts.CipherSuites,
	}
}

// readAll drains a buffer regardless of whether it spilled to disk.
func readAll(buf *buffer.Buffer) []byte {
	if !buf.IsSpilled() {
		return buf.Bytes()
	}
	r, err := buf.Reader()
	if err != nil {
		return nil
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	return data
}

// isStaleConnectionError reports whether err is an I/O failure while writing
// the request (including the final flush, where a small request's bytes
// first reach the socket) — the one case Do retries.
func isStaleConnectionError(err error) bool {
	e, ok := err.(*errors.Error)
	if !ok {
		return false
	}
	return e.Type == errors.ErrorTypeIO && (e.Op == "write" || e.Op == "flush request")
}
