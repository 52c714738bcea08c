package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rawcore/webcc/pkg/body"
	"github.com/rawcore/webcc/pkg/events"
	"github.com/rawcore/webcc/pkg/message"
	"github.com/rawcore/webcc/pkg/route"
	"github.com/rawcore/webcc/pkg/server"
)

type serveOptions struct {
	addr      string
	workers   int
	logFile   string
	stdoutLog bool
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a demo REST-style server over an in-memory book catalog",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.addr, "addr", ":8080", "address to listen on")
	serveCmd.Flags().IntVar(&serveOpts.workers, "workers", 4, "worker pool size")
	serveCmd.Flags().StringVar(&serveOpts.logFile, "log-file", "", "write structured logs here instead of only stdout")
	serveCmd.Flags().BoolVar(&serveOpts.stdoutLog, "log-stdout", true, "also log to stdout")
	rootCmd.AddCommand(serveCmd)
}

// bookCatalog is a tiny in-memory resource the demo server exposes at
// /books and /books/<id>, just enough to exercise literal routes, pattern
// routes with captured Args, and JSON request/response bodies.
type bookCatalog struct {
	mu     sync.Mutex
	books  map[string]string
	nextID int
}

func newBookCatalog() *bookCatalog {
	return &bookCatalog{books: map[string]string{"1": `{"title":"The Pragmatic Programmer"}`}, nextID: 2}
}

func (c *bookCatalog) list(req *message.Request) (*message.Response, bool) {
	if req.Method != message.MethodGet {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf []byte
	buf = append(buf, '[')
	first := true
	for id, rec := range c.books {
		if !first {
			buf = append(buf, ',')
		}
		first = false
		buf = append(buf, []byte(fmt.Sprintf(`{"id":%q,"book":%s}`, id, rec))...)
	}
	buf = append(buf, ']')

	resp := message.NewResponse(message.StatusOK, bodyFromJSON(buf))
	return resp, true
}

func (c *bookCatalog) create(req *message.Request) (*message.Response, bool) {
	if req.Method != message.MethodPost {
		return nil, false
	}
	var payload []byte
	if req.Body != nil {
		b, err := req.Body.Bytes()
		if err != nil {
			return message.NewResponse(message.StatusBadRequest, nil), true
		}
		payload = b
	}

	c.mu.Lock()
	id := strconv.Itoa(c.nextID)
	c.nextID++
	c.books[id] = string(payload)
	c.mu.Unlock()

	resp := message.NewResponse(message.StatusCreated, bodyFromJSON([]byte(fmt.Sprintf(`{"id":%q}`, id))))
	return resp, true
}

func (c *bookCatalog) byID(req *message.Request) (*message.Response, bool) {
	if req.Method != message.MethodGet && req.Method != message.MethodDelete {
		return nil, false
	}
	if len(req.Args) != 1 {
		return message.NewResponse(message.StatusInternalServerError, nil), true
	}
	id := req.Args[0]

	c.mu.Lock()
	defer c.mu.Unlock()

	if req.Method == message.MethodDelete {
		delete(c.books, id)
		return message.NewResponse(message.StatusNoContent, nil), true
	}

	b, ok := c.books[id]
	if !ok {
		return message.NewResponse(message.StatusNotFound, nil), true
	}
	return message.NewResponse(message.StatusOK, bodyFromJSON([]byte(b))), true
}

func bodyFromJSON(data []byte) *body.StringBody {
	return body.NewStringBodyFrom(string(data), "application/json")
}

func runServe(cmd *cobra.Command, args []string) error {
	sink := events.New(events.Options{
		Stdout:   serveOpts.stdoutLog,
		Level:    events.LevelFromEnv(),
		Filename: serveOpts.logFile,
	})

	catalog := newBookCatalog()
	table := route.NewTable()
	table.AddLiteral("/books", []string{message.MethodGet, message.MethodPost}, route.ViewFunc(
		func(req *message.Request) (*message.Response, bool) {
			if req.Method == message.MethodPost {
				return catalog.create(req)
			}
			return catalog.list(req)
		}))
	if err := table.AddPattern(`/books/([^/]+)`, []string{message.MethodGet, message.MethodDelete}, route.ViewFunc(catalog.byID)); err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:        serveOpts.addr,
		WorkerCount: serveOpts.workers,
		IdleTimeout: 90 * time.Second,
		ReadTimeout: 30 * time.Second,
		Sink:        sink,
	}, table)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		return srv.Shutdown()
	}
}
