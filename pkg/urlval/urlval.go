// Package urlval parses and renders the URL forms webcc needs: the
// request-target a server reads off the wire, and the absolute URL a
// client uses to pick a host, port, scheme, and path to dial.
package urlval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rawcore/webcc/pkg/errors"
)

// URL is a parsed HTTP URL. It deliberately does not carry a query
// parameter map: RawQuery is kept verbatim and callers that need
// structured access build it with ParseQuery.
type URL struct {
	Scheme   string
	User     string
	Password string
	Host     string // hostname only, no port
	Port     int    // 0 means "use the scheme default"
	Path     string
	RawQuery string
	Fragment string
}

// defaultPort returns the conventional port for a scheme, or 0 if unknown.
func defaultPort(scheme string) int {
	switch scheme {
	case "http", "ws":
		return 80
	case "https", "wss":
		return 443
	default:
		return 0
	}
}

// EffectivePort returns Port if set, otherwise the scheme's default.
func (u *URL) EffectivePort() int {
	if u.Port != 0 {
		return u.Port
	}
	return defaultPort(u.Scheme)
}

// HostPort renders "host:port" using the effective port.
func (u *URL) HostPort() string {
	return fmt.Sprintf("%s:%d", u.Host, u.EffectivePort())
}

// RequestTarget renders the path+query portion suitable for a request line,
// e.g. "/a/b?x=1".
func (u *URL) RequestTarget() string {
	if u.Path == "*" {
		return "*"
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		return path + "?" + u.RawQuery
	}
	return path
}

// String renders an absolute form of the URL.
func (u *URL) String() string {
	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
	}
	if u.User != "" {
		b.WriteString(u.User)
		if u.Password != "" {
			b.WriteByte(':')
			b.WriteString(u.Password)
		}
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	if u.Port != 0 && u.Port != defaultPort(u.Scheme) {
		fmt.Fprintf(&b, ":%d", u.Port)
	}
	b.WriteString(u.RequestTarget())
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// Parse parses an absolute URL, the form a client starts a request with:
// scheme://[user[:pass]@]host[:port][/path][?query][#fragment].
func Parse(raw string) (*URL, error) {
	if raw == "" {
		return nil, errors.NewSyntaxError("empty URL", nil)
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return nil, errors.NewSyntaxError("invalid characters in URL", nil)
	}

	u := &URL{}

	schemeSep := strings.Index(raw, "://")
	if schemeSep == -1 {
		return nil, errors.NewSyntaxError(fmt.Sprintf("missing scheme in URL %q", raw), nil)
	}
	u.Scheme = strings.ToLower(raw[:schemeSep])
	rest := raw[schemeSep+3:]

	if idx := strings.IndexByte(rest, '#'); idx >= 0 {
		u.Fragment = rest[idx+1:]
		rest = rest[:idx]
	}

	authorityEnd := len(rest)
	for _, sep := range []byte{'/', '?'} {
		if idx := strings.IndexByte(rest, sep); idx >= 0 && idx < authorityEnd {
			authorityEnd = idx
		}
	}
	authority := rest[:authorityEnd]
	tail := rest[authorityEnd:]

	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		userinfo := authority[:at]
		authority = authority[at+1:]
		if colon := strings.IndexByte(userinfo, ':'); colon >= 0 {
			u.User = userinfo[:colon]
			u.Password = userinfo[colon+1:]
		} else {
			u.User = userinfo
		}
	}

	if strings.HasPrefix(authority, "[") {
		// IPv6 literal host, e.g. [::1]:8080
		end := strings.IndexByte(authority, ']')
		if end == -1 {
			return nil, errors.NewSyntaxError("unterminated IPv6 host literal", nil)
		}
		u.Host = authority[:end+1]
		rem := authority[end+1:]
		if strings.HasPrefix(rem, ":") {
			port, err := strconv.Atoi(rem[1:])
			if err != nil {
				return nil, errors.NewSyntaxError("invalid port", err)
			}
			u.Port = port
		}
	} else if colon := strings.LastIndexByte(authority, ':'); colon >= 0 {
		u.Host = strings.ToLower(authority[:colon])
		port, err := strconv.Atoi(authority[colon+1:])
		if err != nil {
			return nil, errors.NewSyntaxError("invalid port", err)
		}
		u.Port = port
	} else {
		u.Host = strings.ToLower(authority)
	}

	if u.Host == "" {
		return nil, errors.NewSyntaxError("missing host in URL", nil)
	}

	if qmark := strings.IndexByte(tail, '?'); qmark >= 0 {
		u.Path = tail[:qmark]
		u.RawQuery = tail[qmark+1:]
	} else {
		u.Path = tail
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u, nil
}

// ParseRequestTarget parses the request-target a server reads from a
// request line, per RFC 7230 §5.3: origin-form (/path?query),
// absolute-form (http://host/path?query), or asterisk-form (*).
func ParseRequestTarget(raw string) (*URL, error) {
	if raw == "" {
		return nil, errors.NewSyntaxError("empty request-target", nil)
	}
	if strings.ContainsAny(raw, " \r\n") {
		return nil, errors.NewSyntaxError("invalid characters in request-target", nil)
	}

	if raw == "*" {
		return &URL{Path: "*"}, nil
	}

	if strings.Contains(raw, "://") {
		return Parse(raw)
	}

	u := &URL{}
	if qmark := strings.IndexByte(raw, '?'); qmark >= 0 {
		u.Path = raw[:qmark]
		u.RawQuery = raw[qmark+1:]
	} else {
		u.Path = raw
	}
	if u.Path == "" || u.Path[0] != '/' {
		return nil, errors.NewSyntaxError(fmt.Sprintf("invalid origin-form target %q", raw), nil)
	}
	return u, nil
}

// QueryPair is one decoded key/value pair from a query string. A plain
// slice, not a map, keeps duplicate keys and source order intact.
type QueryPair struct {
	Key   string
	Value string
}

// ParseQuery decodes a raw query string (without the leading '?') into
// ordered key/value pairs, percent-decoding both halves.
func ParseQuery(raw string) ([]QueryPair, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, "&")
	pairs := make([]QueryPair, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		var key, value string
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			key, value = part[:idx], part[idx+1:]
		} else {
			key = part
		}
		dk, err := unescape(key)
		if err != nil {
			return nil, errors.NewSyntaxError("invalid query key encoding", err)
		}
		dv, err := unescape(value)
		if err != nil {
			return nil, errors.NewSyntaxError("invalid query value encoding", err)
		}
		pairs = append(pairs, QueryPair{Key: dk, Value: dv})
	}
	return pairs, nil
}

// EncodeQuery renders ordered key/value pairs back into a raw query string,
// percent-encoding reserved characters in both halves.
func EncodeQuery(pairs []QueryPair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(p.Key))
		if p.Value != "" {
			b.WriteByte('=')
			b.WriteString(escape(p.Value))
		}
	}
	return b.String()
}

func unescape(s string) (string, error) {
	s = strings.ReplaceAll(s, "+", " ")
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' {
			if i+2 >= len(s) {
				return "", fmt.Errorf("truncated percent-escape at offset %d", i)
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", fmt.Errorf("invalid percent-escape %q", s[i:i+3])
			}
			b.WriteByte(byte(v))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String(), nil
}

const hexDigit = "0123456789ABCDEF"

func escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == ' ':
			b.WriteByte('+')
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigit[c>>4])
			b.WriteByte(hexDigit[c&0x0f])
		}
	}
	return b.String()
}
