package parser

import (
	"io"

	"github.com/rawcore/webcc/pkg/errors"
)

// ReadFrom drives the parser to completion by reading from r in
// constant-size chunks, feeding each chunk to Write. It returns once the
// parser reports Done, or on the first I/O error — including io.EOF when
// the parser is not in a state that treats EOF as completion (an
// until-close body).
//
// This is the blocking convenience path pkg/client uses over a net.Conn
// (pkg/server runs its own read loop around Write); the parser's own state machine does not care whether bytes
// arrive this way or via direct Write calls from an event loop, which is
// what makes it split-insensitive.
func ReadFrom(r io.Reader, p *Parser) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.Write(buf[:n])
			if p.Failed() {
				return p.Err()
			}
			if p.Done() {
				return nil
			}
		}
		if err != nil {
			if err == io.EOF && p.NeedsCloseToFinish() {
				p.Finish()
				return nil
			}
			if err == io.EOF {
				return errors.NewIOError("read message", io.ErrUnexpectedEOF)
			}
			return errors.NewIOError("read message", err)
		}
	}
}
