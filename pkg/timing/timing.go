// Package timing breaks a client request down into the phases a caller
// cares about when diagnosing slowness: DNS lookup, TCP connect, TLS
// handshake, and time-to-first-byte. pkg/client.Result carries one Metrics
// value per request/attempt.
package timing

import (
	"fmt"
	"time"
)

type phase int

const (
	phaseDNS phase = iota
	phaseTCP
	phaseTLS
	phaseTTFB
	numPhases
)

// Metrics is the measured duration of each phase of one request attempt,
// plus the wall-clock total from Timer creation to GetMetrics.
type Metrics struct {
	DNSLookup    time.Duration `json:"dns_lookup"`
	TCPConnect   time.Duration `json:"tcp_connect"`
	TLSHandshake time.Duration `json:"tls_handshake"` // zero for plain http
	TTFB         time.Duration `json:"ttfb"`
	TotalTime    time.Duration `json:"total_time"`
}

// Timer records when each phase started and ended. A phase whose Start/End
// pair was never called contributes a zero duration to Metrics — callers
// that skip DNS (a literal IP target) or TLS (plain http) don't need to
// special-case anything.
type Timer struct {
	created time.Time
	starts  [numPhases]time.Time
	ends    [numPhases]time.Time
}

// NewTimer starts the clock for TotalTime.
func NewTimer() *Timer {
	return &Timer{created: time.Now()}
}

func (t *Timer) mark(p phase, times *[numPhases]time.Time) {
	times[p] = time.Now()
}

// StartDNS/EndDNS, StartTCP/EndTCP, StartTLS/EndTLS, and StartTTFB/EndTTFB
// bracket the corresponding phase; call Start before the work begins and
// End immediately after it completes.
func (t *Timer) StartDNS()  { t.mark(phaseDNS, &t.starts) }
func (t *Timer) EndDNS()    { t.mark(phaseDNS, &t.ends) }
func (t *Timer) StartTCP()  { t.mark(phaseTCP, &t.starts) }
func (t *Timer) EndTCP()    { t.mark(phaseTCP, &t.ends) }
func (t *Timer) StartTLS()  { t.mark(phaseTLS, &t.starts) }
func (t *Timer) EndTLS()    { t.mark(phaseTLS, &t.ends) }
func (t *Timer) StartTTFB() { t.mark(phaseTTFB, &t.starts) }
func (t *Timer) EndTTFB()   { t.mark(phaseTTFB, &t.ends) }

func (t *Timer) elapsed(p phase) time.Duration {
	if t.starts[p].IsZero() || t.ends[p].IsZero() {
		return 0
	}
	return t.ends[p].Sub(t.starts[p])
}

// GetMetrics reports the duration of every phase recorded so far and the
// total time since the Timer was created.
func (t *Timer) GetMetrics() Metrics {
	return Metrics{
		DNSLookup:    t.elapsed(phaseDNS),
		TCPConnect:   t.elapsed(phaseTCP),
		TLSHandshake: t.elapsed(phaseTLS),
		TTFB:         t.elapsed(phaseTTFB),
		TotalTime:    time.Since(t.created),
	}
}

// ConnectionTime is the total time spent establishing the connection
// (DNS + TCP + TLS), before any request bytes went out.
func (m Metrics) ConnectionTime() time.Duration {
	return m.DNSLookup + m.TCPConnect + m.TLSHandshake
}

// ServerTime approximates time the server spent processing the request —
// in practice just TTFB, since that's the only server-side signal visible
// from the client.
func (m Metrics) ServerTime() time.Duration {
	return m.TTFB
}

// NetworkTime is TotalTime minus the portion attributed to ServerTime.
func (m Metrics) NetworkTime() time.Duration {
	return m.TotalTime - m.TTFB
}

func (m Metrics) String() string {
	return fmt.Sprintf("DNSLookup: %v, TCPConnect: %v, TLSHandshake: %v, TTFB: %v, TotalTime: %v",
		m.DNSLookup, m.TCPConnect, m.TLSHandshake, m.TTFB, m.TotalTime)
}
