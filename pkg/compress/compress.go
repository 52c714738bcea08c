// Package compress implements the gzip and deflate Content-Encoding codecs
// webcc applies to request and response bodies.
package compress

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"strings"

	"github.com/rawcore/webcc/pkg/errors"
)

// GzipThreshold is the minimum body size, in bytes, a client-side request
// body must reach before it is gzip-compressed. Bodies smaller than this
// aren't worth the CPU; this matches webcc's kGzipThreshold.
const GzipThreshold = 1400

// Encoding names as they appear in a Content-Encoding header.
const (
	Gzip    = "gzip"
	Deflate = "deflate"
	Identity = "identity"
)

// EncodeGzip compresses data with gzip at default compression level.
func EncodeGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.NewDecodeError(Gzip, err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.NewDecodeError(Gzip, err)
	}
	return buf.Bytes(), nil
}

// EncodeDeflate compresses data with zlib-wrapped deflate.
func EncodeDeflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.NewDecodeError(Deflate, err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.NewDecodeError(Deflate, err)
	}
	return buf.Bytes(), nil
}

// Encode compresses data per the named encoding. An empty or "identity"
// encoding returns data unchanged.
func Encode(encoding string, data []byte) ([]byte, error) {
	switch strings.TrimSpace(strings.ToLower(encoding)) {
	case "", Identity:
		return data, nil
	case Gzip:
		return EncodeGzip(data)
	case Deflate:
		return EncodeDeflate(data)
	default:
		return nil, errors.NewUnsupportedEncodingError(encoding)
	}
}

// DecodeReader wraps reader with decompressors for each comma-separated
// encoding named in a Content-Encoding header value, applied in the order
// the peer encoded them (so decoding unwinds right to left).
func DecodeReader(encoding string, reader io.Reader) (io.Reader, error) {
	bodyReader := reader
	encodings := strings.Split(encoding, ",")
	for i := len(encodings) - 1; i >= 0; i-- {
		enc := strings.TrimSpace(strings.ToLower(encodings[i]))
		switch enc {
		case "", Identity:
			continue
		case Gzip:
			gz, err := gzip.NewReader(bodyReader)
			if err != nil {
				return nil, errors.NewDecodeError(Gzip, err)
			}
			bodyReader = gz
		case Deflate:
			zr, err := zlib.NewReader(bodyReader)
			if err != nil {
				// Some servers send raw deflate without the zlib wrapper.
				bodyReader = flate.NewReader(bodyReader)
				continue
			}
			bodyReader = zr
		default:
			return nil, errors.NewUnsupportedEncodingError(enc)
		}
	}
	return bodyReader, nil
}

// Decode fully decompresses data per the named Content-Encoding.
func Decode(encoding string, data []byte) ([]byte, error) {
	r, err := DecodeReader(encoding, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewDecodeError(encoding, err)
	}
	return out, nil
}

// ShouldCompress reports whether a body of the given size is worth
// gzip-compressing on the way out, per GzipThreshold.
func ShouldCompress(size int) bool {
	return size >= GzipThreshold
}
