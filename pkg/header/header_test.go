package header

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetIsCaseInsensitiveAndReplaces(t *testing.T) {
	h := New()
	h.Set("Content-Type", "text/plain")
	h.Set("content-type", "application/json")

	require.Equal(t, "application/json", h.Get("CONTENT-TYPE"))
	require.Equal(t, 1, h.Len(), "second Set must replace, not append")
}

func TestSetPreservesFirstInsertionOrder(t *testing.T) {
	h := New()
	h.Set("Host", "example.com")
	h.Set("Accept", "*/*")
	h.Set("host", "replaced.example.com") // re-set must not move Host later

	var keys []string
	h.Each(func(k, v string) { keys = append(keys, k) })

	require.Equal(t, []string{"Host", "Accept"}, keys)
}

func TestWritePreservesInsertionOrder(t *testing.T) {
	h := New()
	h.Set("Host", "example.com")
	h.Set("Accept", "*/*")
	h.Set("Content-Length", "0")

	var b strings.Builder
	require.NoError(t, h.Write(&b))

	want := "Host: example.com\r\nAccept: */*\r\nContent-Length: 0\r\n\r\n"
	require.Equal(t, want, b.String())
}

func TestDelRemovesField(t *testing.T) {
	h := New()
	h.Set("Host", "example.com")
	h.Set("Accept", "*/*")
	h.Del("Host")

	require.False(t, h.Has("Host"))
	require.Equal(t, 1, h.Len())
}

func TestParseLinesHandlesContinuation(t *testing.T) {
	lines := []string{
		"Subject: first",
		" second part",
		"\tthird part",
	}
	h, err := ParseLines(lines, DefaultLimits())
	require.NoError(t, err)
	require.Equal(t, "first second part third part", h.Get("Subject"))
}

func TestParseLinesRejectsContinuationWithoutPrecedingField(t *testing.T) {
	_, err := ParseLines([]string{" dangling"}, DefaultLimits())
	require.Error(t, err, "expected an error for a leading continuation line")
}

func TestParseLinesRejectsMalformedLine(t *testing.T) {
	_, err := ParseLines([]string{"NoColonHere"}, DefaultLimits())
	require.Error(t, err, "expected an error for a line with no colon")
}

func TestParseLinesEnforcesMaxFields(t *testing.T) {
	_, err := ParseLines([]string{"A: 1", "B: 2"}, Limits{MaxFields: 1})
	require.Error(t, err, "expected an error once the field count exceeds MaxFields")
}

func TestCloneIsIndependent(t *testing.T) {
	h := New()
	h.Set("Host", "example.com")
	c := h.Clone()
	c.Set("Host", "other.example.com")

	require.Equal(t, "example.com", h.Get("Host"), "original mutated via clone")
}
