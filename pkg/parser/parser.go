// Package parser implements the incremental HTTP/1.1 wire-format state
// machine at the heart of webcc: it consumes raw bytes as they arrive off a
// socket, in whatever chunks the transport happens to deliver them in, and
// advances through start-line, headers, and body without ever assuming a
// full line or a full body arrived in one read. Feeding the same message
// one byte at a time or all at once produces the same result.
package parser

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/rawcore/webcc/pkg/errors"
	"github.com/rawcore/webcc/pkg/header"
	"github.com/rawcore/webcc/pkg/message"
)

// State names the stage of the state machine.
type State int

const (
	StateStartLine State = iota
	StateHeaders
	StateFixedBody
	StateChunkSize
	StateChunkData
	StateChunkCRLF
	StateChunkTrailer
	StateUntilClose
	StateFinished
	StateError
)

// DefaultMaxStartLineBytes and DefaultMaxHeaderBytes bound how much
// unparsed data the parser will buffer before giving up on a malformed or
// abusive peer.
const (
	DefaultMaxStartLineBytes = 8 * 1024
	DefaultMaxHeaderBytes    = 64 * 1024
)

// Parser incrementally parses one HTTP/1.1 request or response. Create one
// with NewRequestParser or NewResponseParser, then call Write repeatedly as
// bytes arrive; check Done/Err after each call.
type Parser struct {
	state State

	buf    []byte // bytes received but not yet consumed by the state machine
	isResp bool

	// Parsed so far.
	startLine message.StartLine
	header    *header.Header

	headerLines []string

	contentLength int64
	chunked       bool
	hasBody       bool // false means "no body at all" (e.g. bodyless response)

	remaining int64 // bytes left to copy for the current fixed body or chunk

	bodySink io.Writer

	maxStartLineBytes int
	maxHeaderBytes    int

	// requestMethod lets a response parser decide bodylessness (HEAD) per
	// RFC 9110 §6.4.1.
	requestMethod string

	err error
}

// NewRequestParser creates a parser for an incoming request, writing body
// bytes to sink as they're decoded.
func NewRequestParser(sink io.Writer) *Parser {
	return &Parser{
		header:            header.New(),
		bodySink:          sink,
		maxStartLineBytes: DefaultMaxStartLineBytes,
		maxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// NewResponseParser creates a parser for an incoming response to a request
// made with requestMethod (used to detect bodyless responses), writing body
// bytes to sink as they're decoded.
func NewResponseParser(requestMethod string, sink io.Writer) *Parser {
	return &Parser{
		isResp:            true,
		header:            header.New(),
		bodySink:          sink,
		requestMethod:     requestMethod,
		maxStartLineBytes: DefaultMaxStartLineBytes,
		maxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// SetLimits overrides the default start-line/header size caps.
func (p *Parser) SetLimits(maxStartLine, maxHeader int) {
	p.maxStartLineBytes = maxStartLine
	p.maxHeaderBytes = maxHeader
}

// Done reports whether the message has been fully parsed.
func (p *Parser) Done() bool { return p.state == StateFinished }

// Failed reports whether the parser hit an unrecoverable error.
func (p *Parser) Failed() bool { return p.state == StateError }

// Err returns the error that caused Failed to become true, if any.
func (p *Parser) Err() error { return p.err }

// StartLine returns the parsed start line. Valid once past StateStartLine.
func (p *Parser) StartLine() message.StartLine { return p.startLine }

// Header returns the parsed headers. Grows as headers are parsed; only
// complete once Done() or state is past StateHeaders.
func (p *Parser) Header() *header.Header { return p.header }

// ContentLength returns the declared body length, or message.ContentLengthUnknown.
func (p *Parser) ContentLength() int64 {
	if p.chunked {
		return message.ContentLengthUnknown
	}
	if !p.hasBody {
		return 0
	}
	return p.contentLength
}

// Write feeds newly-arrived bytes into the parser. It always consumes all
// of data into its internal buffer and returns len(data), nil — errors
// surface through Failed/Err rather than the return value, so a caller
// looping over Reads can keep writing after a partial message without
// special-casing io.Writer's "short write" contract.
func (p *Parser) Write(data []byte) (int, error) {
	n := len(data)
	if p.state == StateFinished || p.state == StateError {
		return n, nil
	}
	p.buf = append(p.buf, data...)
	if err := p.advance(); err != nil {
		p.state = StateError
		p.err = err
	}
	return n, nil
}

// advance runs the state machine as far forward as the buffered bytes allow,
// stopping (without error) when more data is needed.
func (p *Parser) advance() error {
	for {
		switch p.state {
		case StateStartLine:
			line, ok, err := p.takeLine(p.maxStartLineBytes, "start line")
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			sl, err := parseStartLine(line, p.isResp)
			if err != nil {
				return err
			}
			p.startLine = sl
			p.state = StateHeaders

		case StateHeaders:
			line, ok, err := p.takeLine(p.maxHeaderBytes, "header line")
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if line == "" {
				if err := p.finishHeaders(); err != nil {
					return err
				}
				continue
			}
			p.headerLines = append(p.headerLines, line)

		case StateFixedBody:
			if p.remaining == 0 {
				p.state = StateFinished
				continue
			}
			if len(p.buf) == 0 {
				return nil
			}
			take := int64(len(p.buf))
			if take > p.remaining {
				take = p.remaining
			}
			if _, err := p.bodySink.Write(p.buf[:take]); err != nil {
				return errors.NewIOError("write body chunk", err)
			}
			p.buf = p.buf[take:]
			p.remaining -= take
			if p.remaining == 0 {
				p.state = StateFinished
			}

		case StateChunkSize:
			line, ok, err := p.takeLine(64, "chunk size")
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			size, err := parseChunkSize(line)
			if err != nil {
				return err
			}
			if size == 0 {
				p.state = StateChunkTrailer
				continue
			}
			p.remaining = size
			p.state = StateChunkData

		case StateChunkData:
			if p.remaining == 0 {
				p.state = StateChunkCRLF
				continue
			}
			if len(p.buf) == 0 {
				return nil
			}
			take := int64(len(p.buf))
			if take > p.remaining {
				take = p.remaining
			}
			if _, err := p.bodySink.Write(p.buf[:take]); err != nil {
				return errors.NewIOError("write chunk data", err)
			}
			p.buf = p.buf[take:]
			p.remaining -= take
			if p.remaining == 0 {
				p.state = StateChunkCRLF
			}

		case StateChunkCRLF:
			line, ok, err := p.takeLine(2, "chunk terminator")
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if line != "" {
				return errors.NewSyntaxError("malformed chunk terminator", nil)
			}
			p.state = StateChunkSize

		case StateChunkTrailer:
			line, ok, err := p.takeLine(p.maxHeaderBytes, "trailer line")
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if line == "" {
				p.state = StateFinished
				continue
			}
			p.headerLines = append(p.headerLines, line)
			trailers, err := header.ParseLines(p.headerLines[len(p.headerLines)-1:], header.DefaultLimits())
			if err != nil {
				return err
			}
			trailers.Each(func(k, v string) { p.header.Set(k, v) })

		case StateUntilClose:
			if len(p.buf) == 0 {
				return nil
			}
			if _, err := p.bodySink.Write(p.buf); err != nil {
				return errors.NewIOError("write body", err)
			}
			p.buf = p.buf[:0]
			return nil

		case StateFinished, StateError:
			return nil
		}
	}
}

// Finish tells an until-close body parser that the peer closed the
// connection, completing the message. Calling this in any other state is a
// no-op unless the state is headers-complete-but-no-framing-known (a
// response read-until-close).
func (p *Parser) Finish() {
	if p.state == StateUntilClose {
		p.state = StateFinished
	}
}

// NeedsCloseToFinish reports whether this message's body framing is
// "read until the connection closes" — the one case where EOF is success,
// not an error.
func (p *Parser) NeedsCloseToFinish() bool {
	return p.state == StateUntilClose
}

func (p *Parser) finishHeaders() error {
	h, err := header.ParseLines(p.headerLines, header.DefaultLimits())
	if err != nil {
		return err
	}
	p.header = h

	if p.isResp && message.IsBodyless(p.startLine.StatusCode, p.requestMethod) {
		p.hasBody = false
		p.state = StateFinished
		return nil
	}

	te := strings.ToLower(strings.TrimSpace(h.Get(header.TransferEncoding)))
	if te != "" {
		if !strings.Contains(te, "chunked") {
			return errors.NewUnsupportedFramingError("unsupported transfer-encoding: " + te)
		}
		p.chunked = true
		p.hasBody = true
		p.state = StateChunkSize
		return nil
	}

	clStr := strings.TrimSpace(h.Get(header.ContentLength))
	if clStr != "" {
		cl, err := strconv.ParseInt(clStr, 10, 64)
		if err != nil || cl < 0 {
			return errors.NewSyntaxError("invalid Content-Length", nil)
		}
		p.contentLength = cl
		p.hasBody = cl > 0
		p.remaining = cl
		if cl == 0 {
			p.state = StateFinished
		} else {
			p.state = StateFixedBody
		}
		return nil
	}

	// No Transfer-Encoding, no Content-Length.
	if !p.isResp {
		// Requests with neither are bodyless (RFC 9110 §6.3).
		p.hasBody = false
		p.state = StateFinished
		return nil
	}

	// A response with neither is read until the connection closes.
	p.hasBody = true
	p.contentLength = message.ContentLengthUnknown
	p.state = StateUntilClose
	return nil
}

// takeLine extracts one CRLF-terminated line (CRLF stripped) from the front
// of the buffer if a full line is present. ok is false if more data is
// needed; it is not an error.
func (p *Parser) takeLine(maxBytes int, what string) (line string, ok bool, err error) {
	idx := bytes.Index(p.buf, []byte("\r\n"))
	if idx == -1 {
		if maxBytes > 0 && len(p.buf) > maxBytes {
			return "", false, errors.NewSyntaxError(what+" exceeds maximum length", nil)
		}
		return "", false, nil
	}
	if maxBytes > 0 && idx > maxBytes {
		return "", false, errors.NewSyntaxError(what+" exceeds maximum length", nil)
	}
	line = string(p.buf[:idx])
	p.buf = p.buf[idx+2:]
	return line, true, nil
}

func parseStartLine(line string, isResp bool) (message.StartLine, error) {
	var sl message.StartLine
	if line == "" {
		return sl, errors.NewSyntaxError("empty start line", nil)
	}
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return sl, errors.NewSyntaxError("malformed start line: "+line, nil)
	}

	if isResp {
		major, minor, err := parseHTTPVersion(fields[0])
		if err != nil {
			return sl, err
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			return sl, errors.NewSyntaxError("invalid status code", err)
		}
		sl.Major, sl.Minor = major, minor
		sl.StatusCode = code
		sl.Reason = strings.Join(fields[2:], " ")
		return sl, nil
	}

	major, minor, err := parseHTTPVersion(fields[2])
	if err != nil {
		return sl, err
	}
	sl.Method = fields[0]
	sl.RequestTarget = fields[1]
	sl.Major, sl.Minor = major, minor
	return sl, nil
}

func parseHTTPVersion(proto string) (major, minor int, err error) {
	if !strings.HasPrefix(proto, "HTTP/") {
		return 0, 0, errors.NewSyntaxError("invalid HTTP version: "+proto, nil)
	}
	ver := strings.TrimPrefix(proto, "HTTP/")
	dot := strings.IndexByte(ver, '.')
	if dot < 0 {
		return 0, 0, errors.NewSyntaxError("invalid HTTP version: "+proto, nil)
	}
	maj, err1 := strconv.Atoi(ver[:dot])
	min, err2 := strconv.Atoi(ver[dot+1:])
	if err1 != nil || err2 != nil {
		return 0, 0, errors.NewSyntaxError("invalid HTTP version: "+proto, nil)
	}
	return maj, min, nil
}

func parseChunkSize(line string) (int64, error) {
	if semi := strings.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, errors.NewSyntaxError("empty chunk size line", nil)
	}
	size, err := strconv.ParseInt(line, 16, 64)
	if err != nil || size < 0 {
		return 0, errors.NewSyntaxError("invalid chunk size: "+line, nil)
	}
	return size, nil
}
