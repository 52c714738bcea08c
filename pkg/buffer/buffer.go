// Package buffer backs the response-body staging area: a payload accumulates
// in memory up to a configurable ceiling, then spools to a temp file once it
// crosses that ceiling, so a handful of huge downloads can't blow the
// process's memory even though most response bodies never spill at all.
package buffer

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/rawcore/webcc/pkg/errors"
)

// DefaultMemoryLimit is the in-memory ceiling a Buffer uses when New is
// given a non-positive limit: 4MiB, comfortably larger than typical API
// response bodies while still bounding worst-case memory per connection.
const DefaultMemoryLimit = 4 * 1024 * 1024

// Buffer accumulates written bytes in memory and transparently spools to a
// temp file once the total exceeds its memory limit. Every method is safe
// for concurrent use; Close is idempotent.
type Buffer struct {
	mu     sync.Mutex
	mem    bytes.Buffer
	file   *os.File
	path   string
	total  int64
	limit  int64
	closed bool
}

// New returns a Buffer that spools to disk once its contents exceed limit
// bytes. A non-positive limit falls back to DefaultMemoryLimit.
func New(limit int64) *Buffer {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Buffer{limit: limit}
}

// NewWithData returns a Buffer preloaded with data, entirely in memory
// regardless of DefaultMemoryLimit — callers using this already hold the
// bytes in memory, so deferring to a limit buys nothing.
func NewWithData(data []byte) *Buffer {
	b := &Buffer{limit: DefaultMemoryLimit, total: int64(len(data))}
	b.mem.Write(data)
	return b
}

// Write appends p, spilling the buffer's contents to a temp file the first
// time total size would cross limit.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errors.NewIOError("buffer is closed", nil)
	}

	b.total += int64(len(p))

	if b.file == nil && int64(b.mem.Len()+len(p)) <= b.limit {
		return b.mem.Write(p)
	}

	if b.file == nil {
		if err := b.spillLocked(); err != nil {
			return 0, err
		}
	}

	n, err := b.file.Write(p)
	if err != nil {
		return n, errors.NewIOError("writing to temp file", err)
	}
	return n, nil
}

// spillLocked opens the backing temp file and drains the in-memory bytes
// into it. b.mu must be held. On failure it closes/removes whatever got
// created so a half-spilled Buffer never lingers as a leaked temp file.
func (b *Buffer) spillLocked() error {
	tmp, err := os.CreateTemp("", "webcc-buffer-*.tmp")
	if err != nil {
		return errors.NewIOError("creating temp file", err)
	}

	// Assign before the write below so closeLocked, called on a failed
	// write, finds and cleans up the new file.
	b.file = tmp
	b.path = tmp.Name()

	if b.mem.Len() > 0 {
		if _, err := tmp.Write(b.mem.Bytes()); err != nil {
			b.closeLocked()
			return errors.NewIOError("writing to temp file", err)
		}
	}
	b.mem.Reset()
	return nil
}

// Bytes returns the in-memory payload, or nil once the buffer has spilled —
// callers must fall back to Reader for a spilled buffer's contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file != nil {
		return nil
	}
	return b.mem.Bytes()
}

// Path returns the spooled temp file's path, or "" if the buffer never spilled.
func (b *Buffer) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// Size returns the total number of bytes written so far.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// IsSpilled reports whether the buffer has moved its payload to disk.
func (b *Buffer) IsSpilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file != nil
}

// Reader opens a fresh, independent reader over the buffer's full
// contents — safe to call more than once, and safe alongside further
// in-progress Writes to a spilled buffer since each call re-opens the file.
func (b *Buffer) Reader() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.NewIOError("buffer is closed", nil)
	}

	if b.file != nil {
		if err := b.file.Sync(); err != nil {
			return nil, errors.NewIOError("syncing temp file", err)
		}
		f, err := os.Open(b.path)
		if err != nil {
			return nil, errors.NewIOError("opening temp file for reading", err)
		}
		return f, nil
	}

	return io.NopCloser(bytes.NewReader(b.mem.Bytes())), nil
}

// Close releases the buffer's temp file, if any, and marks it unusable for
// further Writes or Reads. Idempotent and safe for concurrent calls.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *Buffer) closeLocked() error {
	if b.closed {
		return nil
	}
	b.closed = true

	if b.file != nil {
		closeErr := b.file.Close()
		removeErr := os.Remove(b.path)
		b.file = nil
		b.path = ""
		if closeErr != nil {
			return errors.NewIOError("closing temp file", closeErr)
		}
		if removeErr != nil {
			return errors.NewIOError("removing temp file", removeErr)
		}
	}
	return nil
}

// Reset closes any spilled file and rewinds the buffer to empty, ready to
// be written to again under the same memory limit.
func (b *Buffer) Reset() error {
	if err := b.Close(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.mem.Reset()
	b.total = 0
	b.closed = false
	return nil
}
