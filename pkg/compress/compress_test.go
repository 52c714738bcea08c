package compress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGzipRoundTrip(t *testing.T) {
	data := []byte("hello, gzip world")
	encoded, err := EncodeGzip(data)
	require.NoError(t, err)
	decoded, err := Decode(Gzip, encoded)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestDeflateRoundTrip(t *testing.T) {
	data := []byte("hello, deflate world")
	encoded, err := EncodeDeflate(data)
	require.NoError(t, err)
	decoded, err := Decode(Deflate, encoded)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestEncodeIdentityIsNoop(t *testing.T) {
	data := []byte("unchanged")
	out, err := Encode("", data)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestEncodeUnsupportedEncoding(t *testing.T) {
	_, err := Encode("br", []byte("x"))
	require.Error(t, err)
}

func TestDecodeReaderChainsMultipleEncodings(t *testing.T) {
	data := []byte("layered payload")
	gz, err := EncodeGzip(data)
	require.NoError(t, err)
	deflated, err := EncodeDeflate(gz)
	require.NoError(t, err)

	decoded, err := Decode("gzip, deflate", deflated)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestShouldCompressThreshold(t *testing.T) {
	require.False(t, ShouldCompress(GzipThreshold-1))
	require.True(t, ShouldCompress(GzipThreshold))
}

func TestDecodeReaderIdentityPassesThrough(t *testing.T) {
	decoded, err := Decode("identity", []byte("plain"))
	require.NoError(t, err)
	require.Equal(t, "plain", string(decoded))
}

func TestDecodeReaderUnsupportedEncoding(t *testing.T) {
	_, err := Decode("br", []byte("x"))
	require.Error(t, err)
}
