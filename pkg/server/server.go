// Package server implements the server dispatch core (components K and
// L): a TCP accept loop that hands each connection to a worker pool, which
// drives the parser, dispatches to the route table, and writes the
// response, recycling the socket under keep-alive.
package server

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rawcore/webcc/pkg/errors"
	"github.com/rawcore/webcc/pkg/events"
	"github.com/rawcore/webcc/pkg/route"
	"github.com/rawcore/webcc/pkg/workerpool"
)

// Config controls how a Server binds, accepts, and bounds a connection's
// resource use. Zero values fall back to the documented defaults.
type Config struct {
	Addr string // e.g. ":8080"

	WorkerCount int // default 2, per spec.md's server scheduling model
	QueueDepth  int // default WorkerCount * 4

	MaxHeaderBytes int64
	MaxBodyBytes   int64
	IdleTimeout    time.Duration // time allowed waiting for the next request on a keep-alive connection
	ReadTimeout    time.Duration // time allowed to finish reading one request once started

	TLSConfig *tls.Config // non-nil upgrades every accepted connection to TLS

	Sink events.Sink // structured event sink; defaults to events.Nop
}

func (c Config) withDefaults() Config {
	if c.WorkerCount < 1 {
		c.WorkerCount = 2
	}
	if c.QueueDepth < 1 {
		c.QueueDepth = c.WorkerCount * 4
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 90 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.Sink == nil {
		c.Sink = events.Nop{}
	}
	return c
}

// Server binds one listener and dispatches accepted connections through a
// bounded worker pool to a route table.
type Server struct {
	cfg   Config
	table *route.Table
	pool  *workerpool.Pool

	mu       sync.Mutex
	listener net.Listener
	closing  atomic.Bool

	conns   map[*Connection]struct{}
	connsMu sync.Mutex
}

// New creates a Server bound to table. Call Run to start accepting.
func New(cfg Config, table *route.Table) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:   cfg,
		table: table,
		pool:  workerpool.New(cfg.WorkerCount, cfg.QueueDepth),
		conns: make(map[*Connection]struct{}),
	}
}

// Run binds the listener and blocks, accepting connections until Shutdown
// is called or Accept returns any error.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.NewConnectionError(s.cfg.Addr, 0, err)
	}
	if s.cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, s.cfg.TLSConfig)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.cfg.Sink.Info("server.listening", events.String("addr", s.cfg.Addr))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			s.cfg.Sink.Warn("server.accept_error", events.Err(err))
			return errors.NewConnectionError(s.cfg.Addr, 0, err)
		}
		s.handleAccepted(conn)
	}
}

// handleAccepted wraps an accepted net.Conn into a Connection and submits
// it to the worker pool, answering 503 directly (without queueing) when the
// pool is saturated so an overloaded server sheds load instead of piling up
// unbounded pending connections.
func (s *Server) handleAccepted(conn net.Conn) {
	c := newConnection(s, conn)
	s.trackConn(c)

	if !s.pool.TrySubmit(c) {
		s.cfg.Sink.Warn("server.queue_full", events.String("remote", conn.RemoteAddr().String()))
		c.rejectServiceUnavailable()
		s.untrackConn(c)
	}
}

func (s *Server) trackConn(c *Connection) {
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(c *Connection) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
}

// Shutdown stops accepting new connections, closes every live connection
// (canceling any queued-but-unstarted work without a response), and waits
// for the worker pool to drain, matching the acceptor's documented
// graceful-shutdown contract.
func (s *Server) Shutdown() error {
	s.closing.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	s.connsMu.Lock()
	for c := range s.conns {
		c.conn.Close()
	}
	s.connsMu.Unlock()

	s.pool.Stop()
	s.cfg.Sink.Info("server.shutdown_complete")
	return nil
}

// newConnectionID returns a short unique id used only for event
// correlation, replacing webcc's bare connection counter with a
// globally-unique id so log lines from concurrent workers can be joined.
func newConnectionID() string {
	return uuid.NewString()
}
