// Package body implements the tagged-variant body payloads webcc attaches
// to requests and responses: a string body held in memory, a streamed
// multipart form body, and a file body that reads from disk in fixed-size
// chunks instead of loading the whole file into memory.
package body

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rawcore/webcc/pkg/buffer"
	"github.com/rawcore/webcc/pkg/compress"
	"github.com/rawcore/webcc/pkg/errors"
	"github.com/rawcore/webcc/pkg/header"
)

// DefaultChunkSize is how many bytes NextPayload returns per call when a
// body is read incrementally (matches webcc's socket read buffer size).
const DefaultChunkSize = 1024

// Body is the contract every payload variant implements. Callers either
// read the whole thing with Bytes(), or stream it with InitPayload/NextPayload
// for the server's chunked-write path.
type Body interface {
	// Size returns the length in bytes, or -1 if unknown ahead of time.
	Size() int64

	// ContentType returns the MIME type to put in the Content-Type header,
	// or "" to leave the header unset.
	ContentType() string

	// InitPayload resets iteration to the start of the body.
	InitPayload() error

	// NextPayload returns the next chunk of the body. A zero-length slice
	// with a nil error indicates the end of the body.
	NextPayload() ([]byte, error)

	// Bytes reads the entire body into memory.
	Bytes() ([]byte, error)

	// Close releases any resources (open files, spilled buffers).
	Close() error

	// Dump renders a short representation for logging, truncated for large
	// bodies.
	Dump() string
}

// maxDumpSize caps how much of a body Dump renders, matching webcc's
// kMaxDumpSize.
const maxDumpSize = 2048

// StringBody is an in-memory body, the common case for JSON/text payloads.
type StringBody struct {
	data        []byte
	contentType string
	index       int
}

// NewStringBody wraps data as a Body, optionally compressing it with gzip
// when it is large enough to be worth the CPU (compress.GzipThreshold).
func NewStringBody(data []byte, contentType string, gzip bool) (*StringBody, error) {
	sb := &StringBody{data: data, contentType: contentType}
	if gzip && compress.ShouldCompress(len(data)) {
		compressed, err := compress.EncodeGzip(data)
		if err != nil {
			return nil, err
		}
		sb.data = compressed
	}
	return sb, nil
}

// NewStringBodyFrom is a convenience constructor for plain string payloads.
func NewStringBodyFrom(s string, contentType string) *StringBody {
	return &StringBody{data: []byte(s), contentType: contentType}
}

func (b *StringBody) Size() int64        { return int64(len(b.data)) }
func (b *StringBody) ContentType() string { return b.contentType }

func (b *StringBody) InitPayload() error {
	b.index = 0
	return nil
}

func (b *StringBody) NextPayload() ([]byte, error) {
	if b.index >= len(b.data) {
		return nil, nil
	}
	end := b.index + DefaultChunkSize
	if end > len(b.data) {
		end = len(b.data)
	}
	chunk := b.data[b.index:end]
	b.index = end
	return chunk, nil
}

func (b *StringBody) Bytes() ([]byte, error) { return b.data, nil }
func (b *StringBody) Close() error           { return nil }

func (b *StringBody) Dump() string {
	if len(b.data) <= maxDumpSize {
		return string(b.data)
	}
	return string(b.data[:maxDumpSize]) + fmt.Sprintf("... (%d more bytes)", len(b.data)-maxDumpSize)
}

// FormPart is one field or file of a multipart form body.
type FormPart struct {
	Name        string
	Filename    string // empty for plain fields
	ContentType string
	Data        []byte
}

// FormBody assembles a multipart/form-data body from named parts, streaming
// the boundary framing and part contents without concatenating everything
// into one buffer up front.
type FormBody struct {
	parts    []FormPart
	boundary string

	index     int
	partIndex int
	finished  bool
}

// NewFormBody builds a FormBody from parts using a random boundary prefixed
// with "----Webcc", matching the wire format webcc's original C++ client
// used so interop tests retain the same boundary shape.
func NewFormBody(parts []FormPart, boundary string) *FormBody {
	if boundary == "" {
		boundary = NewBoundary()
	}
	return &FormBody{parts: parts, boundary: boundary}
}

// NewBoundary generates a random multipart boundary.
func NewBoundary() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to a fixed suffix; collisions are astronomically
		// unlikely to matter for a single request's framing either way.
		for i := range buf {
			buf[i] = byte('a' + i%26)
		}
	}
	const hex = "0123456789abcdef"
	out := make([]byte, 0, len(buf)*2)
	for _, b := range buf {
		out = append(out, hex[b>>4], hex[b&0x0f])
	}
	return "----Webcc" + string(out)
}

func (b *FormBody) Boundary() string { return b.boundary }

func (b *FormBody) ContentType() string {
	return "multipart/form-data; boundary=" + b.boundary
}

func (b *FormBody) Size() int64 {
	var total int64
	for _, p := range b.parts {
		total += int64(len(b.partHeader(p))) + int64(len(p.Data)) + 2
	}
	total += int64(len("--" + b.boundary + "--\r\n"))
	return total
}

func (b *FormBody) partHeader(p FormPart) string {
	h := header.New()
	if p.Filename != "" {
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.Name, p.Filename))
	} else {
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, p.Name))
	}
	if p.ContentType != "" {
		h.Set(header.ContentType, p.ContentType)
	}

	var buf []byte
	for _, k := range h.Keys() {
		buf = append(buf, []byte(fmt.Sprintf("%s: %s\r\n", k, h.Get(k)))...)
	}
	buf = append(buf, '\r', '\n')
	return "--" + b.boundary + "\r\n" + string(buf)
}

func (b *FormBody) InitPayload() error {
	b.index = 0
	b.partIndex = 0
	b.finished = false
	return nil
}

// NextPayload emits one framing/data segment per call: boundary+headers,
// then the part body, then the trailing CRLF, for each part in turn,
// finishing with the closing boundary.
func (b *FormBody) NextPayload() ([]byte, error) {
	if b.finished {
		return nil, nil
	}
	if b.partIndex >= len(b.parts) {
		b.finished = true
		return []byte("--" + b.boundary + "--\r\n"), nil
	}

	p := b.parts[b.partIndex]
	segment := b.partHeader(p) + string(p.Data) + "\r\n"
	b.partIndex++
	return []byte(segment), nil
}

func (b *FormBody) Bytes() ([]byte, error) {
	if err := b.InitPayload(); err != nil {
		return nil, err
	}
	var out []byte
	for {
		chunk, err := b.NextPayload()
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (b *FormBody) Close() error { return nil }

func (b *FormBody) Dump() string {
	return fmt.Sprintf("multipart/form-data with %d part(s), boundary=%s", len(b.parts), b.boundary)
}

// FileBody streams a file from disk in fixed-size chunks, so serving a
// large file never requires holding it all in memory. NewFileBodyFromBuffer
// also uses it to read back an incoming body that pkg/buffer spilled to disk.
type FileBody struct {
	path        string
	chunkSize   int
	contentType string
	size        int64

	file *os.File
}

// NewFileBody opens path for chunked reading. The file is opened lazily on
// the first InitPayload call.
func NewFileBody(path string, chunkSize int) (*FileBody, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewFileError("stat", err)
	}
	return &FileBody{
		path:        path,
		chunkSize:   chunkSize,
		size:        info.Size(),
		contentType: contentTypeFromExtension(path),
	}, nil
}

// NewFileBodyFromBuffer adapts a spilled pkg/buffer.Buffer into a FileBody
// so the same chunked-read path serves both disk files and buffers that
// overflowed memory during upload.
func NewFileBodyFromBuffer(buf *buffer.Buffer, contentType string) (Body, error) {
	if !buf.IsSpilled() {
		data := buf.Bytes()
		return &StringBody{data: data, contentType: contentType}, nil
	}
	fb, err := NewFileBody(buf.Path(), DefaultChunkSize)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		fb.contentType = contentType
	}
	return fb, nil
}

func (b *FileBody) Size() int64         { return b.size }
func (b *FileBody) ContentType() string { return b.contentType }

func (b *FileBody) InitPayload() error {
	if b.file != nil {
		b.file.Close()
	}
	f, err := os.Open(b.path)
	if err != nil {
		return errors.NewFileError("open", err)
	}
	b.file = f
	return nil
}

func (b *FileBody) NextPayload() ([]byte, error) {
	if b.file == nil {
		if err := b.InitPayload(); err != nil {
			return nil, err
		}
	}
	chunk := make([]byte, b.chunkSize)
	n, err := b.file.Read(chunk)
	if n > 0 {
		return chunk[:n], nil
	}
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewFileError("read", err)
	}
	return nil, nil
}

func (b *FileBody) Bytes() ([]byte, error) {
	if err := b.InitPayload(); err != nil {
		return nil, err
	}
	defer b.Close()
	var out []byte
	for {
		chunk, err := b.NextPayload()
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (b *FileBody) Close() error {
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	if err != nil {
		return errors.NewFileError("close", err)
	}
	return nil
}

func (b *FileBody) Dump() string {
	return fmt.Sprintf("file body: %s (%d bytes)", b.path, b.size)
}

var extensionMediaTypes = map[string]string{
	".json": "application/json",
	".xml":  "application/xml",
	".html": "text/html",
	".htm":  "text/html",
	".txt":  "text/plain",
	".css":  "text/css",
	".js":   "application/javascript",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
}

func contentTypeFromExtension(path string) string {
	ext := filepath.Ext(path)
	if ct, ok := extensionMediaTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
