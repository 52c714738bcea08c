package body

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawcore/webcc/pkg/buffer"
)

func TestStringBodyNextPayloadChunks(t *testing.T) {
	data := strings.Repeat("x", DefaultChunkSize+10)
	b, err := NewStringBody([]byte(data), "text/plain", false)
	require.NoError(t, err)
	b.InitPayload()

	var got []byte
	chunks := 0
	for {
		chunk, err := b.NextPayload()
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		chunks++
		got = append(got, chunk...)
	}
	require.Equal(t, 2, chunks)
	require.Equal(t, data, string(got))
}

func TestStringBodyGzipsAboveThreshold(t *testing.T) {
	small, err := NewStringBody([]byte("tiny"), "text/plain", true)
	require.NoError(t, err)
	require.EqualValues(t, 4, small.Size(), "small body was compressed")

	large, err := NewStringBody([]byte(strings.Repeat("a", 2000)), "text/plain", true)
	require.NoError(t, err)
	require.Less(t, large.Size(), int64(2000), "large body was not compressed")
}

func TestFormBodyFramesBoundary(t *testing.T) {
	fb := NewFormBody([]FormPart{
		{Name: "field", Data: []byte("value")},
		{Name: "file", Filename: "a.txt", ContentType: "text/plain", Data: []byte("contents")},
	}, "")

	raw, err := fb.Bytes()
	require.NoError(t, err)
	s := string(raw)
	require.Contains(t, s, fb.Boundary())
	require.True(t, strings.HasSuffix(s, "--"+fb.Boundary()+"--\r\n"), "body does not end with the closing boundary")
	require.Contains(t, s, `name="field"`)
	require.Contains(t, s, `filename="a.txt"`)
	require.EqualValues(t, fb.Size(), len(raw))
}

func TestFileBodyReadsChunks(t *testing.T) {
	f, err := os.CreateTemp("", "webcc-filebody-*.txt")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	content := "hello from disk"
	_, err = f.WriteString(content)
	require.NoError(t, err)
	f.Close()

	fb, err := NewFileBody(f.Name(), 4)
	require.NoError(t, err)
	got, err := fb.Bytes()
	require.NoError(t, err)
	require.Equal(t, content, string(got))
	require.Equal(t, "text/plain", fb.ContentType())
}

func TestNewFileBodyFromBufferUnspilledReturnsStringBody(t *testing.T) {
	buf := buffer.New(1024)
	buf.Write([]byte("small"))

	b, err := NewFileBodyFromBuffer(buf, "text/plain")
	require.NoError(t, err)
	require.IsType(t, &StringBody{}, b)
	data, err := b.Bytes()
	require.NoError(t, err)
	require.Equal(t, "small", string(data))
}

func TestNewFileBodyFromBufferSpilledReturnsFileBody(t *testing.T) {
	buf := buffer.New(4) // tiny limit forces a spill to disk
	buf.Write([]byte("this is longer than the limit"))
	defer buf.Close()

	require.True(t, buf.IsSpilled(), "expected buffer to have spilled to disk given its tiny limit")

	b, err := NewFileBodyFromBuffer(buf, "text/plain")
	require.NoError(t, err)
	require.IsType(t, &FileBody{}, b)
	data, err := b.Bytes()
	require.NoError(t, err)
	require.Equal(t, "this is longer than the limit", string(data))
}
