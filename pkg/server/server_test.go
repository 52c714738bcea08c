package server

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rawcore/webcc/pkg/message"
	"github.com/rawcore/webcc/pkg/route"
)

func newTestServer(t *testing.T, table *route.Table) (addr string, srv *Server) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv = New(Config{WorkerCount: 2, IdleTimeout: time.Second, ReadTimeout: time.Second}, table)
	// Borrow the pre-bound listener rather than letting Run bind its own, so
	// the test can learn the ephemeral port before serving starts.
	srv.listener = ln
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			srv.handleAccepted(conn)
		}
	}()
	t.Cleanup(func() { srv.Shutdown() })
	return ln.Addr().String(), srv
}

func TestServerDispatchesLiteralRoute(t *testing.T) {
	table := route.NewTable()
	table.AddLiteral("/hello", []string{message.MethodGet}, route.ViewFunc(
		func(req *message.Request) (*message.Response, bool) {
			return message.NewResponse(message.StatusOK, nil), true
		}))

	addr, _ := newTestServer(t, table)

	resp, err := http.Get("http://" + addr + "/hello")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerUnmatchedRouteIs404(t *testing.T) {
	table := route.NewTable()
	addr, _ := newTestServer(t, table)

	resp, err := http.Get("http://" + addr + "/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerKeepsConnectionAliveAcrossRequests(t *testing.T) {
	table := route.NewTable()
	var hits int
	table.AddLiteral("/ping", nil, route.ViewFunc(
		func(req *message.Request) (*message.Response, bool) {
			hits++
			return message.NewResponse(message.StatusOK, nil), true
		}))

	addr, _ := newTestServer(t, table)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	br := bufio.NewReader(conn)
	for i := 0; i < 2; i++ {
		_, err := io.WriteString(conn, "GET /ping HTTP/1.1\r\nHost: test\r\n\r\n")
		require.NoError(t, err, "write request %d", i)
		resp, err := http.ReadResponse(br, nil)
		require.NoError(t, err, "read response %d", i)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "response %d", i)
		require.NotEqual(t, "close", resp.Header.Get("Connection"), "response %d closed the connection, want keep-alive", i)
	}
}

func TestServerConnectionCloseHeaderEndsConnection(t *testing.T) {
	table := route.NewTable()
	table.AddLiteral("/bye", nil, route.ViewFunc(
		func(req *message.Request) (*message.Response, bool) {
			return message.NewResponse(message.StatusOK, nil), true
		}))

	addr, _ := newTestServer(t, table)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	br := bufio.NewReader(conn)
	io.WriteString(conn, "GET /bye HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n")
	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Equal(t, io.EOF, err, "expected EOF after Connection: close")
}

func TestServerPanickingViewIs500(t *testing.T) {
	table := route.NewTable()
	table.AddLiteral("/panic", nil, route.ViewFunc(
		func(req *message.Request) (*message.Response, bool) {
			panic("boom")
		}))

	addr, _ := newTestServer(t, table)

	resp, err := http.Get("http://" + addr + "/panic")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServerRejectsConnectionWhenPoolIsSaturated(t *testing.T) {
	table := route.NewTable()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(Config{WorkerCount: 1, QueueDepth: 1, IdleTimeout: time.Second, ReadTimeout: time.Second}, table)
	srv.listener = ln
	t.Cleanup(func() { ln.Close() })

	// Stop the pool up front so TrySubmit deterministically reports "full"
	// without relying on timing to actually saturate a live worker/queue.
	srv.pool.Stop()

	addr := ln.Addr().String()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		srv.handleAccepted(conn)
	}()

	resp, err := http.Get("http://" + addr + "/anything")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
