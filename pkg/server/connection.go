package server

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rawcore/webcc/pkg/body"
	"github.com/rawcore/webcc/pkg/buffer"
	"github.com/rawcore/webcc/pkg/compress"
	"github.com/rawcore/webcc/pkg/errors"
	"github.com/rawcore/webcc/pkg/events"
	"github.com/rawcore/webcc/pkg/header"
	"github.com/rawcore/webcc/pkg/message"
	"github.com/rawcore/webcc/pkg/parser"
	"github.com/rawcore/webcc/pkg/route"
	"github.com/rawcore/webcc/pkg/urlval"
)

// Connection owns one accepted socket for its whole lifetime: it drives the
// parser across as many sequential keep-alive requests as the peer sends,
// dispatches each to the route table, writes the response, and recycles
// the socket in place rather than allocating a new Connection per request.
// It implements workerpool.Job so the worker pool can run it end-to-end.
type Connection struct {
	id     string
	conn   net.Conn
	server *Server
}

func newConnection(s *Server, conn net.Conn) *Connection {
	return &Connection{id: newConnectionID(), conn: conn, server: s}
}

// Run drives this connection's full lifecycle:
//
//	read -> parse -> (incomplete? read again) -> dispatch -> write response ->
//	   if keep-alive and no error -> reset parser+message, loop -> else close
//
// It is called by exactly one worker goroutine at a time.
func (c *Connection) Run() {
	defer c.server.untrackConn(c)
	defer c.conn.Close()

	cfg := c.server.cfg
	for {
		p, bodyBuf, readErr, idleClose := c.readRequest(cfg)
		if idleClose {
			// Peer closed the connection while we were waiting for the next
			// keep-alive request; this is normal connection teardown, not
			// an error worth a response or a log line above debug.
			return
		}
		if readErr != nil {
			cfg.Sink.Debug("connection.parse_error", events.String("id", c.id), events.Err(readErr))
			c.writeBadRequest()
			return
		}

		req, err := buildRequest(p, bodyBuf)
		if err != nil {
			cfg.Sink.Debug("connection.parse_error", events.String("id", c.id), events.Err(err))
			c.writeBadRequest()
			return
		}

		resp := c.dispatch(req)
		decorateResponse(resp, req)

		if err := message.WriteResponse(c.conn, resp); err != nil {
			cfg.Sink.Debug("connection.write_error", events.String("id", c.id), events.Err(err))
			return
		}

		if !keepAlive(req, resp) {
			return
		}
	}
}

// dispatch invokes the route table, recovering from a panicking View so one
// bad handler can't take the worker (and the whole connection) down with it.
func (c *Connection) dispatch(req *message.Request) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			c.server.cfg.Sink.Error("connection.view_panic",
				events.String("id", c.id), events.String("recovered", fmt.Sprint(r)))
			resp = message.NewResponse(message.StatusInternalServerError, nil)
		}
	}()
	return route.Dispatch(c.server.table, req)
}

// rejectServiceUnavailable answers a connection the worker pool's queue had
// no room for, without ever handing it to a worker.
func (c *Connection) rejectServiceUnavailable() {
	defer c.conn.Close()
	resp := message.NewResponse(message.StatusServiceUnavailable, nil)
	resp.Header.Set(header.Connection, "close")
	message.WriteResponse(c.conn, resp)
}

// readRequest reads and parses one request off the connection. idleClose
// reports that the peer closed the connection before sending any bytes of a
// new request — normal keep-alive teardown, never reported as an error.
func (c *Connection) readRequest(cfg Config) (p *parser.Parser, bodyBuf *buffer.Buffer, err error, idleClose bool) {
	bodyBuf = buffer.New(cfg.MaxBodyBytes)
	p = parser.NewRequestParser(bodyBuf)
	if cfg.MaxHeaderBytes > 0 {
		p.SetLimits(int(cfg.MaxHeaderBytes), int(cfg.MaxHeaderBytes))
	}

	buf := make([]byte, 4096)
	first := true
	for {
		if first {
			c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		} else {
			c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		}

		n, readErr := c.conn.Read(buf)
		if n > 0 {
			first = false
			p.Write(buf[:n])
			if p.Failed() {
				return p, bodyBuf, p.Err(), false
			}
			if p.Done() {
				return p, bodyBuf, nil, false
			}
		}
		if readErr != nil {
			if readErr == io.EOF && first {
				return p, bodyBuf, nil, true
			}
			if readErr == io.EOF {
				return p, bodyBuf, errors.NewIOError("read request", io.ErrUnexpectedEOF), false
			}
			return p, bodyBuf, errors.NewIOError("read request", readErr), false
		}
	}
}

// buildRequest turns a finished request parser into a message.Request,
// decoding a Content-Encoded body the same way the client engine decodes
// responses.
func buildRequest(p *parser.Parser, bodyBuf *buffer.Buffer) (*message.Request, error) {
	sl := p.StartLine()
	u, err := urlval.ParseRequestTarget(sl.RequestTarget)
	if err != nil {
		return nil, err
	}

	h := p.Header()
	contentType := h.Get(header.ContentType)
	encoding := h.Get(header.ContentEncoding)

	var b body.Body
	if bodyBuf == nil || bodyBuf.Size() == 0 {
		b = nil
	} else if encoding == "" || encoding == compress.Identity {
		b, err = body.NewFileBodyFromBuffer(bodyBuf, contentType)
		if err != nil {
			return nil, err
		}
	} else {
		raw := readAllBuffer(bodyBuf)
		decoded, derr := compress.Decode(encoding, raw)
		if derr != nil {
			bodyBuf.Close()
			return nil, derr
		}
		b = body.NewStringBodyFrom(string(decoded), contentType)
		bodyBuf.Close()
	}

	req := &message.Request{
		Message: message.Message{
			Major:  sl.Major,
			Minor:  sl.Minor,
			Header: h,
		},
		Method: sl.Method,
		URL:    u,
		Host:   h.Get(header.Host),
	}
	if b != nil {
		req.Body = b
		req.ContentLength = b.Size()
	}
	return req, nil
}

func readAllBuffer(buf *buffer.Buffer) []byte {
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

// decorateResponse stamps the ambient headers every server response
// carries, and sets Connection to reflect the keep-alive decision that's
// about to be made.
func decorateResponse(resp *message.Response, req *message.Request) {
	if !resp.Header.Has(header.Server) {
		resp.Header.Set(header.Server, "webcc")
	}
	if !resp.Header.Has(header.Date) {
		resp.Header.Set(header.Date, time.Now().UTC().Format(http1Date))
	}
	if !resp.Header.Has(header.Connection) {
		if keepAlive(req, resp) {
			resp.Header.Set(header.Connection, "keep-alive")
		} else {
			resp.Header.Set(header.Connection, "close")
		}
	}
}

const http1Date = "Mon, 02 Jan 2006 15:04:05 GMT"

// keepAlive applies spec.md §4.G's policy to the server side: the
// connection is reused only if neither the request nor the response
// carries "Connection: close" (HTTP/1.1's default is keep-alive).
func keepAlive(req *message.Request, resp *message.Response) bool {
	if strings.EqualFold(req.Header.Get(header.Connection), "close") {
		return false
	}
	if strings.EqualFold(resp.Header.Get(header.Connection), "close") {
		return false
	}
	return true
}

func (c *Connection) writeBadRequest() {
	resp := message.NewResponse(message.StatusBadRequest, nil)
	resp.Header.Set(header.Connection, "close")
	message.WriteResponse(c.conn, resp)
}
