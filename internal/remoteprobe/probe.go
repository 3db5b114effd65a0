// Package remoteprobe polls devices over SNMP v2c and normalizes the results
// into samples. Sessions are cached per (ip, community) and reused across
// polls; a failed operation drops its session so the next poll redials.
package remoteprobe

import (
	"fmt"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/rs/zerolog"

	"github.com/R8355H0755/lan-insight/internal/logging"
)

const (
	snmpPort       = 161
	defaultTimeout = 5 * time.Second
	defaultRetries = 2
)

// conn is the slice of the SNMP client the probe uses. Swapped in tests.
type conn interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	BulkWalkAll(root string) ([]gosnmp.SnmpPDU, error)
	Close() error
}

type snmpConn struct {
	client *gosnmp.GoSNMP
}

func (c *snmpConn) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	return c.client.Get(oids)
}

func (c *snmpConn) BulkWalkAll(root string) ([]gosnmp.SnmpPDU, error) {
	return c.client.BulkWalkAll(root)
}

func (c *snmpConn) Close() error {
	if c.client.Conn != nil {
		return c.client.Conn.Close()
	}
	return nil
}

var dialSession = func(ip, community string, timeout time.Duration) (conn, error) {
	client := &gosnmp.GoSNMP{
		Target:    ip,
		Port:      snmpPort,
		Transport: "udp",
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   defaultRetries,
		MaxOids:   gosnmp.MaxOids,
	}
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return &snmpConn{client: client}, nil
}

type sessionKey struct {
	ip        string
	community string
}

// session serializes operations on one underlying client; gosnmp clients are
// not safe for concurrent requests. conn is nil once the session is dropped.
type session struct {
	mu   sync.Mutex
	conn conn
}

// Probe is the SNMP collector shared by the engine's poll workers.
type Probe struct {
	mu       sync.Mutex
	sessions map[sessionKey]*session
	timeout  time.Duration
	closed   bool
	log      zerolog.Logger
}

// New creates a probe with the default 5 s query timeout.
func New() *Probe {
	return &Probe{
		sessions: make(map[sessionKey]*session),
		timeout:  defaultTimeout,
		log:      logging.Component("remoteprobe"),
	}
}

// Timeout returns the per-query timeout new sessions are dialed with.
func (p *Probe) Timeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeout
}

// SetTimeout changes the query timeout and flushes cached sessions so the new
// value applies from the next poll.
func (p *Probe) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	if d == p.timeout {
		p.mu.Unlock()
		return
	}
	p.timeout = d
	stale := p.takeSessionsLocked()
	p.mu.Unlock()

	closeSessions(stale)
	p.log.Debug().Dur("timeout", d).Int("flushed", len(stale)).Msg("SNMP timeout updated")
}

// Close shuts down every cached session. The probe rejects further use.
func (p *Probe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stale := p.takeSessionsLocked()
	p.mu.Unlock()

	closeSessions(stale)
	p.log.Debug().Int("sessions", len(stale)).Msg("Remote probe closed")
	return nil
}

func (p *Probe) takeSessionsLocked() []*session {
	out := make([]*session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	p.sessions = make(map[sessionKey]*session)
	return out
}

func closeSessions(sessions []*session) {
	for _, s := range sessions {
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
	}
}

// acquire returns the cached session for the key, dialing one if absent. Two
// concurrent dials for the same key are allowed; the loser closes its
// connection and adopts the winner's.
func (p *Probe) acquire(ip, community string) (*session, error) {
	key := sessionKey{ip: ip, community: community}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("probe is closed")
	}
	if s, ok := p.sessions[key]; ok {
		p.mu.Unlock()
		return s, nil
	}
	timeout := p.timeout
	p.mu.Unlock()

	c, err := dialSession(ip, community, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ip, err)
	}

	s := &session{conn: c}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = c.Close()
		return nil, fmt.Errorf("probe is closed")
	}
	if existing, ok := p.sessions[key]; ok {
		p.mu.Unlock()
		_ = c.Close()
		return existing, nil
	}
	p.sessions[key] = s
	p.mu.Unlock()

	p.log.Debug().Str("ip", ip).Msg("SNMP session opened")
	return s, nil
}

// drop removes the session from the cache if it is still the cached one.
func (p *Probe) drop(ip, community string, s *session) {
	key := sessionKey{ip: ip, community: community}
	p.mu.Lock()
	if p.sessions[key] == s {
		delete(p.sessions, key)
	}
	p.mu.Unlock()
}
