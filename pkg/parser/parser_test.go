package parser

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestParserFixedBody(t *testing.T) {
	var body bytes.Buffer
	p := NewRequestParser(&body)

	raw := "POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"
	p.Write([]byte(raw))

	require.True(t, p.Done(), "parser not done: failed=%v err=%v", p.Failed(), p.Err())
	require.Equal(t, "hello", body.String())
	sl := p.StartLine()
	require.Equal(t, "POST", sl.Method)
	require.Equal(t, "/submit", sl.RequestTarget)
	require.Equal(t, "example.com", p.Header().Get("Host"))
}

func TestRequestParserIsSplitInsensitive(t *testing.T) {
	var body bytes.Buffer
	p := NewRequestParser(&body)

	raw := "POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"
	for i := 0; i < len(raw); i++ {
		p.Write([]byte{raw[i]})
		require.False(t, p.Failed(), "parser failed at byte %d: %v", i, p.Err())
	}

	require.True(t, p.Done(), "parser not done after feeding one byte at a time")
	require.Equal(t, "hello", body.String())
}

func TestRequestParserArbitraryChunking(t *testing.T) {
	raw := []byte("POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 11\r\n\r\nhello world")

	// Split at every possible boundary and confirm the result is identical.
	for split := 1; split < len(raw); split++ {
		var body bytes.Buffer
		p := NewRequestParser(&body)
		p.Write(raw[:split])
		p.Write(raw[split:])

		require.True(t, p.Done(), "split=%d: parser not done: failed=%v err=%v", split, p.Failed(), p.Err())
		require.Equal(t, "hello world", body.String(), "split=%d", split)
	}
}

func TestRequestParserChunkedBody(t *testing.T) {
	var body bytes.Buffer
	p := NewRequestParser(&body)

	raw := "POST /submit HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	p.Write([]byte(raw))

	require.True(t, p.Done(), "parser not done: failed=%v err=%v", p.Failed(), p.Err())
	require.Equal(t, "hello world", body.String())
}

func TestRequestWithNoFramingIsBodyless(t *testing.T) {
	var body bytes.Buffer
	p := NewRequestParser(&body)

	raw := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
	p.Write([]byte(raw))

	require.True(t, p.Done(), "parser not done: failed=%v err=%v", p.Failed(), p.Err())
	require.Zero(t, body.Len())
}

func TestResponseWithNoFramingReadsUntilClose(t *testing.T) {
	var body bytes.Buffer
	p := NewResponseParser("GET", &body)

	raw := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\nhello"
	p.Write([]byte(raw))

	require.False(t, p.Done(), "parser should not be done before Finish() on a close-delimited body")
	require.True(t, p.NeedsCloseToFinish())
	p.Finish()
	require.True(t, p.Done(), "parser should be done after Finish()")
	require.Equal(t, "hello", body.String())
}

func TestHeadResponseIsBodyless(t *testing.T) {
	var body bytes.Buffer
	p := NewResponseParser("HEAD", &body)

	raw := "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n"
	p.Write([]byte(raw))

	require.True(t, p.Done(), "parser not done: failed=%v err=%v", p.Failed(), p.Err())
	require.Zero(t, body.Len(), "HEAD response body should be empty")
}

func TestMalformedStartLineFailsParser(t *testing.T) {
	var body bytes.Buffer
	p := NewRequestParser(&body)

	p.Write([]byte("NOT A REQUEST LINE\r\n\r\n"))
	require.True(t, p.Failed(), "expected parser to fail on a malformed start line")
	require.Error(t, p.Err())
}

func TestUnsupportedTransferEncodingFails(t *testing.T) {
	var body bytes.Buffer
	p := NewRequestParser(&body)

	raw := "POST /x HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: gzip\r\n\r\n"
	p.Write([]byte(raw))
	require.True(t, p.Failed(), "expected parser to fail on an unsupported transfer-encoding")
}
