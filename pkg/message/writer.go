package message

import (
	"bufio"
	"io"
	"strconv"

	"github.com/rawcore/webcc/pkg/errors"
)

// WriteRequest serializes a request's start line, headers, and body to w.
// The body is framed by whatever Content-Length/Transfer-Encoding headers
// are already set on the request; callers that want chunked framing must
// set Chunked and the Transfer-Encoding header themselves before calling.
func WriteRequest(w io.Writer, req *Request) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(req.RequestLine() + "\r\n"); err != nil {
		return errors.NewIOError("write request line", err)
	}
	if err := req.Header.Write(bw); err != nil {
		return err
	}
	if err := writeBody(bw, req.Body, req.Chunked); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return errors.NewIOError("flush request", err)
	}
	return nil
}

// WriteResponse serializes a response's status line, headers, and body to w.
func WriteResponse(w io.Writer, resp *Response) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(resp.StatusLine() + "\r\n"); err != nil {
		return errors.NewIOError("write status line", err)
	}
	if err := resp.Header.Write(bw); err != nil {
		return err
	}
	if err := writeBody(bw, resp.Body, resp.Chunked); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return errors.NewIOError("flush response", err)
	}
	return nil
}

func writeBody(w *bufio.Writer, b interface {
	InitPayload() error
	NextPayload() ([]byte, error)
}, chunked bool) error {
	if b == nil {
		return nil
	}
	if err := b.InitPayload(); err != nil {
		return err
	}
	if chunked {
		return writeChunked(w, b)
	}
	for {
		chunk, err := b.NextPayload()
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			break
		}
		if _, err := w.Write(chunk); err != nil {
			return errors.NewIOError("write body", err)
		}
	}
	return nil
}

// writeChunked streams a body using Transfer-Encoding: chunked framing.
func writeChunked(w *bufio.Writer, b interface {
	NextPayload() ([]byte, error)
}) error {
	for {
		chunk, err := b.NextPayload()
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			break
		}
		if _, err := w.WriteString(strconv.FormatInt(int64(len(chunk)), 16) + "\r\n"); err != nil {
			return errors.NewIOError("write chunk size", err)
		}
		if _, err := w.Write(chunk); err != nil {
			return errors.NewIOError("write chunk data", err)
		}
		if _, err := w.WriteString("\r\n"); err != nil {
			return errors.NewIOError("write chunk terminator", err)
		}
	}
	if _, err := w.WriteString("0\r\n\r\n"); err != nil {
		return errors.NewIOError("write final chunk", err)
	}
	return nil
}
