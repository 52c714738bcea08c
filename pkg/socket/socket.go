// Package socket implements connection establishment (component F): plain
// and TLS dialing, upstream proxy tunneling (HTTP CONNECT, SOCKS4, SOCKS5),
// and a client-side connection pool (component H) keyed by host and port
// (or, for proxied requests, by the proxy hop as well); the scheme is not
// part of the key, so a plain and a TLS connection to the same host:port
// share one queue. The pool has LIFO idle reuse,
// a liveness check on recycled connections, and a background idle-connection
// janitor.
package socket

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rawcore/webcc/pkg/errors"
	"github.com/rawcore/webcc/pkg/timing"
	netproxy "golang.org/x/net/proxy"
)

// ProxyConfig describes an upstream proxy a Pool should tunnel Connect
// calls through. pkg/client re-exports it as client.ProxyConfig, a type
// alias, so client callers can name it without importing pkg/socket.
type ProxyConfig struct {
	Type               string
	Host               string
	Port               int
	Username           string
	Password           string
	ConnTimeout        time.Duration
	ProxyHeaders       map[string]string
	TLSConfig          *tls.Config
	ResolveDNSViaProxy bool
}

// Config describes one Connect call: target address, TLS policy, and
// timeouts. A Pool is reused across many Configs that share a PoolConfig.
type Config struct {
	Scheme    string
	Host      string
	Port      int
	ConnectIP string // bypasses DNS and dials this address directly

	// SNI controls the ServerName sent in the TLS ClientHello.
	// Priority: TLSConfig.ServerName > SNI > Host (unless DisableSNI).
	SNI string

	// DisableSNI suppresses the SNI extension entirely. Mutually exclusive
	// with SNI; validateConfig rejects setting both.
	DisableSNI bool

	// InsecureTLS always overrides TLSConfig.InsecureSkipVerify, even when
	// a caller-supplied TLSConfig is also given — needed for proxy MITM
	// setups that want a custom TLSConfig AND disabled verification.
	InsecureTLS bool

	ConnTimeout  time.Duration
	DNSTimeout   time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	ReuseConnection bool

	// Proxy, when non-nil, routes Connect through an upstream HTTP CONNECT
	// or SOCKS4/5 hop instead of dialing Host:Port directly.
	Proxy *ProxyConfig

	CustomCACerts [][]byte

	// Client certificate for mutual TLS, as PEM bytes or file paths (the
	// PEM fields win if both are set).
	ClientCertPEM  []byte
	ClientKeyPEM   []byte
	ClientCertFile string
	ClientKeyFile  string

	// TLSConfig, if set, is cloned and used as the base TLS configuration;
	// InsecureTLS above still overrides its InsecureSkipVerify.
	TLSConfig *tls.Config

	MinTLSVersion    uint16
	MaxTLSVersion    uint16
	TLSRenegotiation tls.RenegotiationSupport
	CipherSuites     []uint16
}

// ConnectionMetadata describes the connection Connect actually produced:
// which address it landed on, whether it came from the pool, and (for
// https) the negotiated TLS parameters.
type ConnectionMetadata struct {
	ConnectedIP        string
	ConnectedPort      int
	NegotiatedProtocol string
	ConnectionReused   bool

	LocalAddr    string
	RemoteAddr   string
	ConnectionID uint64

	TLSVersion     string
	TLSCipherSuite string
	TLSServerName  string
	TLSSessionID   string // hex-encoded; debugging only, see upgradeTLS
	TLSResumed     bool

	ProxyUsed bool
	ProxyType string // "http", "https", "socks4", "socks5"
	ProxyAddr string

	PoolKey string // key this connection is released/closed under
}

// PoolConfig bounds how many connections a Pool keeps per host and how it
// detects connections the peer has silently closed.
type PoolConfig struct {
	// MaxIdleConnsPerHost caps idle connections kept per host. Default 2.
	MaxIdleConnsPerHost int

	// MaxConnsPerHost caps idle+active connections per host; 0 = unbounded.
	MaxConnsPerHost int

	// MaxIdleTime is how long an idle connection may sit before the
	// janitor (or the next acquire) closes it. Default 90s.
	MaxIdleTime time.Duration

	// WaitTimeout bounds how long Connect blocks when MaxConnsPerHost is
	// already reached; 0 returns a pool-exhausted error immediately.
	WaitTimeout time.Duration

	// TCPKeepAlive enables OS-level keep-alive probes on dialed sockets,
	// a cheaper dead-peer signal than the read-based liveness check below.
	TCPKeepAlive       bool
	TCPKeepAlivePeriod time.Duration

	// StaleCheckThreshold: connections used more recently than this are
	// assumed alive without the liveness read; older ones get probed.
	StaleCheckThreshold time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 2
	}
	if c.MaxIdleTime <= 0 {
		c.MaxIdleTime = 90 * time.Second
	}
	if c.TCPKeepAlivePeriod <= 0 {
		c.TCPKeepAlivePeriod = 30 * time.Second
	}
	if c.StaleCheckThreshold <= 0 {
		c.StaleCheckThreshold = 1 * time.Second
	}
	return c
}

// DefaultPoolConfig returns the Pool's baseline sizing and liveness policy.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConnsPerHost: 2,
		MaxConnsPerHost:     0, // unbounded
		MaxIdleTime:         90 * time.Second,
		WaitTimeout:         0, // never block
		TCPKeepAlive:        true,
		TCPKeepAlivePeriod:  30 * time.Second,
		StaleCheckThreshold: 1 * time.Second,
	}.withDefaults()
}

// idleConn is one idle socket sitting in a hostPool, tagged with the
// metadata it was connected with so a reuse can report it again.
type idleConn struct {
	conn      net.Conn
	metadata  ConnectionMetadata
	lastUsed  time.Time
	createdAt time.Time
}

// hostPool holds the idle connections and in-flight count for one pool
// key (a host:port pair, or a proxy-hop-qualified variant of one).
type hostPool struct {
	mu        sync.Mutex
	idle      []*idleConn // LIFO: most-recently-released first
	numActive int
	cond      *sync.Cond
}

func newHostPool() *hostPool {
	hp := &hostPool{idle: make([]*idleConn, 0, 4)}
	hp.cond = sync.NewCond(&hp.mu)
	return hp
}

// Pool dials and recycles connections (component F) across the keyed
// per-host queues that implement the client connection pool (component H).
type Pool struct {
	resolver  *net.Resolver
	hostPools sync.Map // map[string]*hostPool
	config    PoolConfig

	connectionIDCounter uint64

	reused  uint64 // lifetime count of connections served from the pool
	created uint64 // lifetime count of freshly dialed connections with ReuseConnection set
	waitTOs uint64 // lifetime count of MaxConnsPerHost wait timeouts

	stopJanitor chan struct{}
	wg          sync.WaitGroup
}

// Stats is a read-only snapshot of a Pool's size and lifetime counters.
type Stats struct {
	ActiveConns  int
	IdleConns    int
	TotalReused  int
	TotalCreated int
	WaitTimeouts int
	HostStats    map[string]HostStats
}

// HostStats is the Active/Idle split for a single pool key.
type HostStats struct {
	ActiveConns int
	IdleConns   int
}

// PoolStats and HostPoolStats are kept as aliases of Stats/HostStats for
// callers that still spell out the pool-qualified names.
type (
	PoolStats     = Stats
	HostPoolStats = HostStats
)

// New creates a Pool with the default PoolConfig and resolver.
func New() *Pool {
	return NewWithConfig(DefaultPoolConfig())
}

// NewWithConfig creates a Pool with a custom PoolConfig; zero fields take
// their documented defaults.
func NewWithConfig(config PoolConfig) *Pool {
	return NewWithResolverAndConfig(net.DefaultResolver, config)
}

// NewWithResolver creates a Pool with a custom resolver (useful for tests
// that need deterministic DNS) and the default PoolConfig.
func NewWithResolver(resolver *net.Resolver) *Pool {
	return NewWithResolverAndConfig(resolver, DefaultPoolConfig())
}

// NewWithResolverAndConfig creates a Pool with both a custom resolver and
// a custom PoolConfig, and starts its background idle-connection janitor.
func NewWithResolverAndConfig(resolver *net.Resolver, config PoolConfig) *Pool {
	p := &Pool{
		resolver:    resolver,
		config:      config.withDefaults(),
		stopJanitor: make(chan struct{}),
	}
	go p.idleJanitor()
	return p
}

// PoolConfig returns the configuration this Pool was built with.
func (p *Pool) PoolConfig() PoolConfig {
	return p.config
}

// poolKeyFor builds the key a connection for config is stored/looked up
// under: the proxy hop for proxied requests, else the bare target address.
func poolKeyFor(config Config) string {
	if config.Proxy == nil {
		return fmt.Sprintf("%s:%d", config.Host, config.Port)
	}
	proxyPort := config.Proxy.Port
	if proxyPort == 0 {
		proxyPort = defaultProxyPort(config.Proxy.Type)
	}
	return fmt.Sprintf("%s:%s:%d->%s:%d", config.Proxy.Type, config.Proxy.Host, proxyPort, config.Host, config.Port)
}

func defaultProxyPort(proxyType string) int {
	switch proxyType {
	case "http":
		return 8080
	case "https":
		return 443
	case "socks4", "socks5":
		return 1080
	default:
		return 0
	}
}

// Connect establishes (or reuses, when ReuseConnection is set) a connection
// for config, returning the live net.Conn and the metadata describing it.
func (p *Pool) Connect(ctx context.Context, config Config, timer *timing.Timer) (net.Conn, *ConnectionMetadata, error) {
	if err := validateConfig(config); err != nil {
		return nil, nil, err
	}

	poolKey := poolKeyFor(config)

	if config.ReuseConnection {
		conn, meta, canProceed := p.acquireIdle(poolKey)
		if conn != nil && meta != nil {
			meta.ConnectionReused = true
			meta.PoolKey = poolKey
			return conn, meta, nil
		}
		if !canProceed {
			return nil, nil, errors.NewConnectionError(config.Host, config.Port,
				fmt.Errorf("connection pool exhausted for %s (max: %d, timeout: %v)",
					poolKey, p.config.MaxConnsPerHost, p.config.WaitTimeout))
		}
		// canProceed but conn == nil: a slot was reserved, dial fresh below.
	}

	connTimeout := config.ConnTimeout
	if connTimeout <= 0 {
		connTimeout = 10 * time.Second
	}

	var dialAddr string
	var err error
	if config.Proxy != nil && config.Proxy.ResolveDNSViaProxy && config.ConnectIP == "" {
		// Hand the proxy the hostname so it resolves the target itself.
		dialAddr = net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	} else {
		dialAddr, err = p.resolveAddress(ctx, config, timer)
		if err != nil {
			return nil, nil, err
		}
	}

	metadata := &ConnectionMetadata{}
	if host, portStr, splitErr := net.SplitHostPort(dialAddr); splitErr == nil {
		metadata.ConnectedIP = host
		if port, convErr := strconv.Atoi(portStr); convErr == nil {
			metadata.ConnectedPort = port
		}
	}

	var conn net.Conn
	if config.Proxy != nil {
		conn, metadata, err = p.dialViaProxy(ctx, config, dialAddr, connTimeout, timer, metadata)
		if err != nil {
			return nil, nil, err // already wrapped as a ProxyError
		}
	} else {
		conn, err = p.dialTCP(ctx, dialAddr, connTimeout, timer)
		if err != nil {
			return nil, nil, errors.NewConnectionError(config.Host, config.Port, err)
		}
	}

	if conn.LocalAddr() != nil {
		metadata.LocalAddr = conn.LocalAddr().String()
	}
	if conn.RemoteAddr() != nil {
		metadata.RemoteAddr = conn.RemoteAddr().String()
	}
	metadata.ConnectionID = atomic.AddUint64(&p.connectionIDCounter, 1)

	if strings.EqualFold(config.Scheme, "https") {
		conn, err = p.upgradeTLS(ctx, conn, config, timer, metadata)
		if err != nil {
			if conn != nil {
				conn.Close()
			}
			return nil, nil, errors.NewTLSError(config.Host, config.Port, err)
		}
	} else {
		metadata.NegotiatedProtocol = "HTTP/1.1"
	}

	metadata.PoolKey = poolKey
	if config.ReuseConnection {
		atomic.AddUint64(&p.created, 1)
	}

	return conn, metadata, nil
}

func validateConfig(config Config) error {
	if config.Host == "" {
		return errors.NewValidationError("host cannot be empty")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return errors.NewValidationError("port must be between 1 and 65535")
	}
	if config.Scheme != "http" && config.Scheme != "https" {
		return errors.NewValidationError("scheme must be http or https")
	}
	if config.DisableSNI && config.SNI != "" {
		return errors.NewValidationError("cannot set both DisableSNI=true and SNI (conflicting options)")
	}
	return nil
}

// resolveAddress returns the dial-ready "ip:port" for config, honoring
// ConnectIP as a DNS bypass and otherwise resolving Host under its own
// timeout (separate from the connect timeout proper).
func (p *Pool) resolveAddress(ctx context.Context, config Config, timer *timing.Timer) (string, error) {
	if config.ConnectIP != "" {
		return net.JoinHostPort(config.ConnectIP, strconv.Itoa(config.Port)), nil
	}

	timer.StartDNS()
	defer timer.EndDNS()

	dnsTimeout := config.DNSTimeout
	if dnsTimeout <= 0 {
		dnsTimeout = config.ConnTimeout
	}
	if dnsTimeout <= 0 {
		dnsTimeout = 5 * time.Second
	}

	ctxLookup, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := p.resolver.LookupIPAddr(ctxLookup, config.Host)
	if err != nil {
		return "", errors.NewDNSError(config.Host, err)
	}
	if len(addrs) == 0 {
		return "", errors.NewDNSError(config.Host, errors.NewValidationError("no IP addresses found"))
	}

	ip := addrs[0].IP.String()
	return net.JoinHostPort(ip, strconv.Itoa(config.Port)), nil
}

func (p *Pool) dialTCP(ctx context.Context, dialAddr string, timeout time.Duration, timer *timing.Timer) (net.Conn, error) {
	timer.StartTCP()
	defer timer.EndTCP()

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", dialAddr)
	if err != nil {
		return nil, err
	}

	if p.config.TCPKeepAlive {
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(p.config.TCPKeepAlivePeriod)
		}
	}

	return conn, nil
}

// upgradeTLS wraps conn in a TLS client connection per config, preferring a
// caller-supplied TLSConfig (cloned, with InsecureTLS/ALPN forced) over a
// freshly built one, then records the negotiated parameters into metadata.
func (p *Pool) upgradeTLS(ctx context.Context, conn net.Conn, config Config, timer *timing.Timer, metadata *ConnectionMetadata) (net.Conn, error) {
	timer.StartTLS()
	defer timer.EndTLS()

	handshakeTimeout := config.ConnTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	tlsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	tlsConfig, err := p.buildTLSConfig(config, metadata)
	if err != nil {
		return nil, err
	}

	clientCert, err := loadClientCertificate(config)
	if err != nil {
		return nil, err
	}
	if clientCert != nil {
		tlsConfig.Certificates = append(tlsConfig.Certificates, *clientCert)
	}

	if tlsConfig.ServerName != "" {
		metadata.TLSServerName = tlsConfig.ServerName
	} else if !config.DisableSNI {
		metadata.TLSServerName = config.Host
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(tlsCtx); err != nil {
		conn.Close()
		return nil, err
	}

	state := tlsConn.ConnectionState()
	metadata.TLSVersion = tlsVersionString(state.Version)
	metadata.TLSCipherSuite = tls.CipherSuiteName(state.CipherSuite)
	metadata.NegotiatedProtocol = state.NegotiatedProtocol
	if metadata.NegotiatedProtocol == "" {
		metadata.NegotiatedProtocol = "HTTP/1.1"
	}
	metadata.TLSResumed = state.DidResume

	// state.TLSUnique is an RFC 5929 channel-binding value, not a real
	// session identifier (TLS 1.3 has none exposed by crypto/tls); it's
	// kept here for debugging only — use TLSResumed for resumption checks.
	if len(state.TLSUnique) > 0 {
		metadata.TLSSessionID = hex.EncodeToString(state.TLSUnique)
	}

	return tlsConn, nil
}

// buildTLSConfig derives the tls.Config to hand the handshake, applying
// SNI, version/cipher overrides, and CA pinning in config's priority order.
func (p *Pool) buildTLSConfig(config Config, metadata *ConnectionMetadata) (*tls.Config, error) {
	var tlsConfig *tls.Config

	if config.TLSConfig != nil {
		tlsConfig = config.TLSConfig.Clone()
		if config.InsecureTLS {
			tlsConfig.InsecureSkipVerify = true
		}
		// This transport never negotiates HTTP/2, regardless of the
		// caller-supplied config's NextProtos.
		tlsConfig.NextProtos = []string{"http/1.1"}
	} else {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: config.InsecureTLS,
			NextProtos:         []string{"http/1.1"},
		}
		if len(config.CustomCACerts) > 0 {
			rootCAs := x509.NewCertPool()
			for i, caCert := range config.CustomCACerts {
				if ok := rootCAs.AppendCertsFromPEM(caCert); !ok {
					return nil, errors.NewTLSError(config.Host, config.Port,
						errors.NewValidationError(fmt.Sprintf("failed to parse CA certificate at index %d", i)))
				}
			}
			tlsConfig.RootCAs = rootCAs
		}
	}
	ConfigureSNI(tlsConfig, config.SNI, config.DisableSNI, config.Host)

	// Priority below TLSConfig's own values, which always win if already set.
	if config.MinTLSVersion > 0 && tlsConfig.MinVersion == 0 {
		tlsConfig.MinVersion = config.MinTLSVersion
	}
	if config.MaxTLSVersion > 0 && tlsConfig.MaxVersion == 0 {
		tlsConfig.MaxVersion = config.MaxTLSVersion
	}
	if len(config.CipherSuites) > 0 && len(tlsConfig.CipherSuites) == 0 {
		tlsConfig.CipherSuites = config.CipherSuites
	}
	if config.TLSRenegotiation != 0 {
		tlsConfig.Renegotiation = config.TLSRenegotiation
	}

	return tlsConfig, nil
}

func tlsVersionString(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("Unknown TLS version: 0x%04X", version)
	}
}

func (p *Pool) hostPoolFor(key string) *hostPool {
	val, _ := p.hostPools.LoadOrStore(key, newHostPool())
	return val.(*hostPool)
}

// acquireIdle looks for a reusable connection under key. It reports:
//   - (conn, meta, true) when a live idle connection was found
//   - (nil, nil, true) when none was available but a slot was reserved
//   - (nil, nil, false) when the pool is at MaxConnsPerHost and WaitTimeout
//     elapsed before one freed up
func (p *Pool) acquireIdle(key string) (net.Conn, *ConnectionMetadata, bool) {
	hp := p.hostPoolFor(key)

	hp.mu.Lock()
	defer hp.mu.Unlock()

	if conn, meta, ok := p.popLiveIdleLocked(hp); ok {
		return conn, meta, true
	}

	maxConns := p.config.MaxConnsPerHost
	if maxConns <= 0 || hp.numActive < maxConns {
		hp.numActive++
		return nil, nil, true // caller dials a fresh connection
	}
	if p.config.WaitTimeout <= 0 {
		return nil, nil, false
	}
	return p.waitForSlotLocked(hp, maxConns)
}

// popLiveIdleLocked removes and returns the most recently released idle
// connection that passes the staleness/liveness checks, if any. hp.mu must
// be held.
func (p *Pool) popLiveIdleLocked(hp *hostPool) (net.Conn, *ConnectionMetadata, bool) {
	for len(hp.idle) > 0 {
		n := len(hp.idle)
		ic := hp.idle[n-1]
		hp.idle = hp.idle[:n-1]

		if time.Since(ic.lastUsed) > p.config.MaxIdleTime {
			ic.conn.Close()
			continue
		}
		recentlyUsed := time.Since(ic.lastUsed) < p.config.StaleCheckThreshold
		if !recentlyUsed && !isConnectionAlive(ic.conn) {
			ic.conn.Close()
			continue
		}

		hp.numActive++
		atomic.AddUint64(&p.reused, 1)
		meta := ic.metadata
		return ic.conn, &meta, true
	}
	return nil, nil, false
}

// waitForSlotLocked blocks (releasing hp.mu while waiting) until either an
// idle connection appears or WaitTimeout elapses. hp.mu must be held on
// entry and is held again on every return.
func (p *Pool) waitForSlotLocked(hp *hostPool, maxConns int) (net.Conn, *ConnectionMetadata, bool) {
	deadline := time.Now().Add(p.config.WaitTimeout)
	for hp.numActive >= maxConns {
		waitTime := time.Until(deadline)
		if waitTime <= 0 {
			atomic.AddUint64(&p.waitTOs, 1)
			return nil, nil, false
		}

		done := make(chan struct{})
		go func() {
			hp.cond.Wait()
			close(done)
		}()

		hp.mu.Unlock()
		select {
		case <-done:
			hp.mu.Lock()
			if conn, meta, ok := p.popLiveIdleLocked(hp); ok {
				return conn, meta, true
			}
		case <-time.After(waitTime):
			hp.mu.Lock()
			atomic.AddUint64(&p.waitTOs, 1)
			return nil, nil, false
		}
	}
	hp.numActive++
	return nil, nil, true
}

// ReleaseConnection returns conn to the pool for host:port without a
// previously recorded pool key.
func (p *Pool) ReleaseConnection(host string, port int, conn net.Conn) {
	p.ReleaseConnectionWithMetadata(host, port, conn, nil)
}

// ReleaseConnectionWithMetadata returns conn to the idle pool (keyed from
// metadata.PoolKey when present) so a later Connect can reuse it, unless
// the per-host idle cap is already full, in which case it's closed.
func (p *Pool) ReleaseConnectionWithMetadata(host string, port int, conn net.Conn, metadata *ConnectionMetadata) {
	key := resolveKey(host, port, metadata)

	val, ok := p.hostPools.Load(key)
	if !ok {
		conn.Close()
		return
	}

	hp := val.(*hostPool)
	hp.mu.Lock()
	defer hp.mu.Unlock()

	hp.numActive--

	if len(hp.idle) >= p.config.MaxIdleConnsPerHost {
		conn.Close()
		hp.cond.Signal()
		return
	}

	ic := &idleConn{conn: conn, lastUsed: time.Now(), createdAt: time.Now()}
	if metadata != nil {
		ic.metadata = *metadata
	}
	hp.idle = append(hp.idle, ic)
	hp.cond.Signal()
}

// CloseConnection closes conn and removes it from the pool for host:port.
func (p *Pool) CloseConnection(host string, port int, conn net.Conn) {
	p.CloseConnectionWithMetadata(host, port, conn, nil)
}

// CloseConnectionWithMetadata closes conn and drops any bookkeeping the
// pool held for it, whether it was idle or still checked out as active.
func (p *Pool) CloseConnectionWithMetadata(host string, port int, conn net.Conn, metadata *ConnectionMetadata) {
	key := resolveKey(host, port, metadata)

	val, ok := p.hostPools.Load(key)
	if !ok {
		conn.Close()
		return
	}

	hp := val.(*hostPool)
	hp.mu.Lock()
	defer hp.mu.Unlock()

	for i, ic := range hp.idle {
		if ic.conn == conn {
			hp.idle = append(hp.idle[:i], hp.idle[i+1:]...)
			ic.conn.Close()
			hp.cond.Signal()
			return
		}
	}

	hp.numActive--
	conn.Close()
	hp.cond.Signal()
}

func resolveKey(host string, port int, metadata *ConnectionMetadata) string {
	if metadata != nil && metadata.PoolKey != "" {
		return metadata.PoolKey
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// isConnectionAlive best-effort probes conn for a peer-initiated close by
// arming a near-zero read deadline. A timeout means the connection is
// still idle-and-alive; any other outcome (data, EOF, reset) is treated as
// dead — conservative, since re-dialing is cheap and misreading a live
// connection as dead only costs an extra connect.
func isConnectionAlive(conn net.Conn) bool {
	conn.SetReadDeadline(time.Now().Add(1 * time.Millisecond))
	defer conn.SetReadDeadline(time.Time{})

	one := make([]byte, 1)
	_, err := conn.Read(one)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	return false
}

// Stats returns a snapshot of the pool's current size and lifetime counts.
func (p *Pool) Stats() Stats {
	stats := Stats{HostStats: make(map[string]HostStats)}

	p.hostPools.Range(func(key, value interface{}) bool {
		hp := value.(*hostPool)
		hp.mu.Lock()
		idleCount := len(hp.idle)
		activeCount := hp.numActive
		hp.mu.Unlock()

		stats.ActiveConns += activeCount
		stats.IdleConns += idleCount
		stats.HostStats[key.(string)] = HostStats{ActiveConns: activeCount, IdleConns: idleCount}
		return true
	})

	stats.TotalReused = int(atomic.LoadUint64(&p.reused))
	stats.TotalCreated = int(atomic.LoadUint64(&p.created))
	stats.WaitTimeouts = int(atomic.LoadUint64(&p.waitTOs))
	return stats
}

// PoolStats is an alias of Stats kept for callers that prefer the
// pool-qualified method name.
func (p *Pool) PoolStats() Stats { return p.Stats() }

// idleJanitor periodically evicts idle connections older than MaxIdleTime,
// independent of whether any caller happens to acquire from that host pool
// again — otherwise a host that goes quiet keeps a dead/stale socket open
// forever.
func (p *Pool) idleJanitor() {
	p.wg.Add(1)
	defer p.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.hostPools.Range(func(_, value interface{}) bool {
				hp := value.(*hostPool)
				hp.mu.Lock()
				now := time.Now()
				kept := make([]*idleConn, 0, len(hp.idle))
				for _, ic := range hp.idle {
					if now.Sub(ic.lastUsed) > p.config.MaxIdleTime {
						ic.conn.Close()
					} else {
						kept = append(kept, ic)
					}
				}
				hp.idle = kept
				hp.mu.Unlock()
				return true
			})
		case <-p.stopJanitor:
			return
		}
	}
}

// dialViaProxy connects to config.Host:config.Port through config.Proxy,
// recording proxy metadata and dispatching to the protocol-specific dialer.
func (p *Pool) dialViaProxy(ctx context.Context, config Config, targetAddr string, timeout time.Duration, timer *timing.Timer, metadata *ConnectionMetadata) (net.Conn, *ConnectionMetadata, error) {
	proxy := config.Proxy
	if proxy == nil {
		return nil, nil, errors.NewValidationError("proxy configuration is nil")
	}
	if proxy.Type == "" {
		return nil, nil, errors.NewValidationError("proxy type cannot be empty")
	}
	if proxy.Host == "" {
		return nil, nil, errors.NewValidationError("proxy host cannot be empty")
	}

	proxyPort := proxy.Port
	if proxyPort == 0 {
		proxyPort = defaultProxyPort(proxy.Type)
		if proxyPort == 0 {
			return nil, nil, errors.NewValidationError(fmt.Sprintf("unsupported proxy type: %s", proxy.Type))
		}
	}

	proxyTimeout := proxy.ConnTimeout
	if proxyTimeout <= 0 {
		proxyTimeout = timeout
	}

	proxyAddr := fmt.Sprintf("%s:%d", proxy.Host, proxyPort)
	metadata.ProxyUsed = true
	metadata.ProxyType = proxy.Type
	metadata.ProxyAddr = proxyAddr

	timer.StartTCP()
	defer timer.EndTCP()

	var conn net.Conn
	var err error
	switch proxy.Type {
	case "http", "https":
		conn, err = dialViaHTTPProxy(ctx, proxy, proxyAddr, config, targetAddr, proxyTimeout)
	case "socks4":
		conn, err = dialViaSOCKS4Proxy(ctx, proxy, proxyAddr, targetAddr, proxyTimeout)
	case "socks5":
		conn, err = dialViaSOCKS5Proxy(proxy, proxyAddr, targetAddr, proxyTimeout)
	default:
		return nil, nil, errors.NewValidationError(fmt.Sprintf("unsupported proxy type: %s", proxy.Type))
	}
	if err != nil {
		return nil, nil, errors.NewProxyError(proxy.Type, proxyAddr, "connect", err)
	}

	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		metadata.ConnectedIP = tcpAddr.IP.String()
		metadata.ConnectedPort = tcpAddr.Port
	}

	return conn, metadata, nil
}

// dialViaHTTPProxy tunnels to targetAddr through an HTTP/HTTPS CONNECT
// proxy:
//  1. dial the proxy (TLS first, if the proxy itself is https)
//  2. send "CONNECT target HTTP/1.1" (plus auth/custom headers)
//  3. require a "... 200 ..." status line, then discard the header block
//
// The proxy's own scheme only governs the hop to the proxy; traffic
// through the resulting tunnel can still be plain or TLS regardless.
func dialViaHTTPProxy(ctx context.Context, proxy *ProxyConfig, proxyAddr string, config Config, targetAddr string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}

	if proxy.Type == "https" {
		tlsConfig := proxy.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: proxy.Host, InsecureSkipVerify: config.InsecureTLS}
		} else {
			tlsConfig = tlsConfig.Clone()
			if config.InsecureTLS {
				tlsConfig.InsecureSkipVerify = true
			}
			if tlsConfig.ServerName == "" {
				tlsConfig.ServerName = proxy.Host
			}
		}
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake to proxy failed: %w", err)
		}
		conn = tlsConn
	}

	connectReq := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nConnection: keep-alive\r\n", targetAddr, config.Host)
	for key, value := range proxy.ProxyHeaders {
		connectReq += fmt.Sprintf("%s: %s\r\n", key, value)
	}
	if proxy.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(proxy.Username + ":" + proxy.Password))
		connectReq += fmt.Sprintf("Proxy-Authorization: Basic %s\r\n", auth)
	}
	connectReq += "\r\n"

	if _, err := conn.Write([]byte(connectReq)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send CONNECT request: %w", err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	if !strings.Contains(statusLine, " 200") {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", strings.TrimSpace(statusLine))
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to read CONNECT response headers: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	return conn, nil
}

// dialViaSOCKS4Proxy speaks the SOCKS4 request/response byte protocol
// directly (IPv4-only, user-id auth, local DNS resolution — SOCKS4 has no
// hostname-passthrough mode), since it's simple enough not to warrant a
// dependency the way SOCKS5 below does.
//
// Request:  [VER=4][CMD=1][PORT(2)][IP(4)][USERID][NUL]
// Response: [VER][STATUS][PORT(2)][IP(4)], STATUS 0x5A = granted.
func dialViaSOCKS4Proxy(ctx context.Context, proxy *ProxyConfig, proxyAddr string, targetAddr string, timeout time.Duration) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(targetAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid target address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("DNS resolution failed for %s: %w", host, err)
	}
	var targetIP net.IP
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			targetIP = ip4
			break
		}
	}
	if targetIP == nil {
		return nil, fmt.Errorf("no IPv4 address found for %s (SOCKS4 requires IPv4)", host)
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SOCKS4 proxy: %w", err)
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port & 0xFF)}
	req = append(req, targetIP...)
	if proxy.Username != "" {
		req = append(req, []byte(proxy.Username)...)
	}
	req = append(req, 0x00)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send SOCKS4 request: %w", err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read SOCKS4 response: %w", err)
	}

	switch status := resp[1]; status {
	case 0x5A:
		return conn, nil
	case 0x5B:
		conn.Close()
		return nil, fmt.Errorf("SOCKS4 request rejected or failed")
	case 0x5C:
		conn.Close()
		return nil, fmt.Errorf("SOCKS4 request failed: identd not running on client")
	case 0x5D:
		conn.Close()
		return nil, fmt.Errorf("SOCKS4 request failed: identd could not confirm user ID")
	default:
		conn.Close()
		return nil, fmt.Errorf("SOCKS4 unknown status code: 0x%02X", status)
	}
}

// dialViaSOCKS5Proxy delegates to golang.org/x/net/proxy rather than
// hand-rolling RFC 1928, since SOCKS5's negotiation (auth methods, address
// types, optional proxy-side DNS) is materially more involved than SOCKS4's
// fixed-format request.
func dialViaSOCKS5Proxy(proxy *ProxyConfig, proxyAddr string, targetAddr string, timeout time.Duration) (net.Conn, error) {
	var auth *netproxy.Auth
	if proxy.Username != "" {
		auth = &netproxy.Auth{User: proxy.Username, Password: proxy.Password}
	}

	dialer, err := netproxy.SOCKS5("tcp", proxyAddr, auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	// x/net/proxy resolves the target hostname via the proxy by default.
	conn, err := dialer.Dial("tcp", targetAddr)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 connection failed: %w", err)
	}
	return conn, nil
}

// Close stops the idle janitor and closes every pooled connection. Callers
// that built a Pool for a Client's lifetime should call this on shutdown
// to avoid leaking the janitor goroutine.
func (p *Pool) Close() error {
	close(p.stopJanitor)
	p.wg.Wait()

	p.hostPools.Range(func(key, value interface{}) bool {
		hp := value.(*hostPool)
		hp.mu.Lock()
		for _, ic := range hp.idle {
			ic.conn.Close()
		}
		hp.idle = nil
		hp.numActive = 0
		hp.mu.Unlock()
		p.hostPools.Delete(key)
		return true
	})

	return nil
}

// loadClientCertificate loads the mTLS client certificate named by config,
// from either inline PEM bytes or file paths, or returns (nil, nil) if
// neither is configured.
func loadClientCertificate(config Config) (*tls.Certificate, error) {
	hasPEM := len(config.ClientCertPEM) > 0 && len(config.ClientKeyPEM) > 0
	hasFile := config.ClientCertFile != "" && config.ClientKeyFile != ""
	if !hasPEM && !hasFile {
		return nil, nil
	}

	var certPEM, keyPEM []byte
	var err error
	if hasPEM {
		certPEM, keyPEM = config.ClientCertPEM, config.ClientKeyPEM
	} else {
		certPEM, err = os.ReadFile(config.ClientCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read client certificate file %s: %w", config.ClientCertFile, err)
		}
		keyPEM, err = os.ReadFile(config.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read client key file %s: %w", config.ClientKeyFile, err)
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client certificate/key: %w", err)
	}
	return &cert, nil
}

// ConfigureSNI sets tlsConfig.ServerName following one priority order:
// an already-set ServerName wins, then disableSNI (leave empty), then
// customSNI, then fallbackHost. Exported so both this package's internal
// TLS setup and any future transport can share one SNI policy.
func ConfigureSNI(tlsConfig *tls.Config, customSNI string, disableSNI bool, fallbackHost string) {
	if tlsConfig == nil || tlsConfig.ServerName != "" || disableSNI {
		return
	}
	if customSNI != "" {
		tlsConfig.ServerName = customSNI
	} else {
		tlsConfig.ServerName = fallbackHost
	}
}
