// Package header implements an ordered, case-insensitive HTTP header
// dictionary. Unlike a bare map[string][]string, it remembers the order
// fields were first inserted so serialization round-trips the wire order a
// peer sent, and every key carries exactly one value: a second Set/Add for
// the same key replaces the first, matching webcc's single-valued header
// model rather than net/http's multi-value one.
package header

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/rawcore/webcc/pkg/errors"
)

// entry is one header field in insertion order.
type entry struct {
	key   string // canonical form, e.g. "Content-Type"
	value string
}

// Header is an ordered, case-insensitive, single-valued header dictionary.
// The zero value is ready to use.
type Header struct {
	entries []entry
	index   map[string]int // canonical key -> index into entries
}

// New returns an empty Header ready for use.
func New() *Header {
	return &Header{index: make(map[string]int)}
}

func (h *Header) ensureIndex() {
	if h.index == nil {
		h.index = make(map[string]int)
	}
}

// CanonicalKey returns the canonical form of a header name: each
// hyphen-separated segment capitalized, e.g. "content-type" -> "Content-Type".
func CanonicalKey(s string) string {
	if s == "" {
		return ""
	}
	b := []byte(s)
	upperNext := true
	for i, c := range b {
		r := rune(c)
		if upperNext {
			b[i] = byte(unicode.ToUpper(r))
		} else {
			b[i] = byte(unicode.ToLower(r))
		}
		upperNext = c == '-'
	}
	return string(b)
}

// Set replaces any existing value for key with value, preserving the
// position of the first insertion of key if it already existed.
func (h *Header) Set(key, value string) {
	h.ensureIndex()
	ck := CanonicalKey(key)
	if i, ok := h.index[ck]; ok {
		h.entries[i].value = value
		return
	}
	h.index[ck] = len(h.entries)
	h.entries = append(h.entries, entry{key: ck, value: value})
}

// Add behaves like Set: webcc headers are single-valued, so Add exists only
// for callers migrating from multi-value header APIs and is a synonym.
func (h *Header) Add(key, value string) {
	h.Set(key, value)
}

// Get returns the value for key, or "" if absent.
func (h *Header) Get(key string) string {
	if h.index == nil {
		return ""
	}
	if i, ok := h.index[CanonicalKey(key)]; ok {
		return h.entries[i].value
	}
	return ""
}

// Has reports whether key is present.
func (h *Header) Has(key string) bool {
	if h.index == nil {
		return false
	}
	_, ok := h.index[CanonicalKey(key)]
	return ok
}

// Del removes key if present.
func (h *Header) Del(key string) {
	if h.index == nil {
		return
	}
	ck := CanonicalKey(key)
	i, ok := h.index[ck]
	if !ok {
		return
	}
	h.entries = append(h.entries[:i], h.entries[i+1:]...)
	delete(h.index, ck)
	for k, idx := range h.index {
		if idx > i {
			h.index[k] = idx - 1
		}
	}
}

// Keys returns header names in insertion order.
func (h *Header) Keys() []string {
	keys := make([]string, len(h.entries))
	for i, e := range h.entries {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of distinct header fields.
func (h *Header) Len() int {
	return len(h.entries)
}

// Each calls fn for every field in insertion order.
func (h *Header) Each(fn func(key, value string)) {
	for _, e := range h.entries {
		fn(e.key, e.value)
	}
}

// Clone returns an independent copy of h.
func (h *Header) Clone() *Header {
	c := New()
	c.entries = make([]entry, len(h.entries))
	copy(c.entries, h.entries)
	for k, i := range h.index {
		c.index[k] = i
	}
	return c
}

// Write serializes the headers to wire format, "Key: Value\r\n" per field,
// followed by the terminating blank line.
func (h *Header) Write(w io.Writer) error {
	for _, e := range h.entries {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", e.key, e.value); err != nil {
			return errors.NewIOError("header write", err)
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return errors.NewIOError("header write", err)
	}
	return nil
}

// Limits bounds parsed header sizes to protect against abusive peers.
type Limits struct {
	MaxFields     int // maximum distinct header keys allowed, 0 = unlimited
	MaxLineBytes  int // maximum length of a single header line (incl. continuations), 0 = unlimited
}

// DefaultLimits returns reasonable bounds for parsing untrusted peers.
func DefaultLimits() Limits {
	return Limits{MaxFields: 200, MaxLineBytes: 16 * 1024}
}

// ParseLines builds a Header from a sequence of raw header lines (CRLF
// already stripped), handling RFC 7230 §3.2.4 obsolete line-folding:
// a line beginning with SP or HTAB is a continuation of the previous field's
// value, not a new field.
func ParseLines(lines []string, lim Limits) (*Header, error) {
	h := New()
	var lastKey string
	fields := 0
	for _, line := range lines {
		if line == "" {
			continue
		}
		if lim.MaxLineBytes > 0 && len(line) > lim.MaxLineBytes {
			return nil, errors.NewSyntaxError("header line exceeds maximum length", nil)
		}
		if line[0] == ' ' || line[0] == '\t' {
			if lastKey == "" {
				return nil, errors.NewSyntaxError("header continuation with no preceding field", nil)
			}
			prev := h.Get(lastKey)
			h.Set(lastKey, prev+" "+strings.TrimSpace(line))
			continue
		}

		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			return nil, errors.NewSyntaxError(fmt.Sprintf("malformed header line %q", line), nil)
		}
		key := line[:colon]
		if strings.ContainsAny(key, " \t") {
			return nil, errors.NewSyntaxError(fmt.Sprintf("invalid header field name %q", key), nil)
		}
		if !isValidFieldName(key) {
			return nil, errors.NewSyntaxError(fmt.Sprintf("invalid header field name %q", key), nil)
		}
		value := strings.TrimSpace(line[colon+1:])
		if !isValidValue(value) {
			return nil, errors.NewSyntaxError(fmt.Sprintf("invalid header value for %q", key), nil)
		}

		ck := CanonicalKey(key)
		if !h.Has(ck) {
			fields++
			if lim.MaxFields > 0 && fields > lim.MaxFields {
				return nil, errors.NewSyntaxError("too many header fields", nil)
			}
		}
		h.Set(ck, value)
		lastKey = ck
	}
	return h, nil
}

// isValidFieldName reports whether s is a valid HTTP header field name per
// RFC 7230 §3.2.6: A-Z a-z 0-9 ! # $ % & ' * + - . ^ _ ` | ~
func isValidFieldName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z',
			c >= 'a' && c <= 'z',
			c >= '0' && c <= '9',
			c == '!', c == '#', c == '$', c == '%', c == '&', c == '\'',
			c == '*', c == '+', c == '-', c == '.', c == '^', c == '_',
			c == '`', c == '|', c == '~':
			continue
		default:
			return false
		}
	}
	return true
}

// isValidValue checks that a value contains only printable ASCII or HTAB,
// per RFC 7230 §3.2.6 (no CTL except HTAB).
func isValidValue(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\t' {
			continue
		}
		if c < 32 || c == 127 {
			return false
		}
	}
	return true
}

// Well-known header names, canonicalized, matching webcc's globals.h
// constant set.
const (
	Host              = "Host"
	ContentType       = "Content-Type"
	ContentLength     = "Content-Length"
	ContentEncoding   = "Content-Encoding"
	TransferEncoding  = "Transfer-Encoding"
	Connection        = "Connection"
	AcceptEncoding    = "Accept-Encoding"
	UserAgent         = "User-Agent"
	Date              = "Date"
	Server            = "Server"
	Authorization     = "Authorization"
	ProxyAuthorization = "Proxy-Authorization"
	ProxyConnection   = "Proxy-Connection"
	Trailer           = "Trailer"
)
