// Package portscan discovers TCP/UDP listeners inside the container and
// diffs them against what has already been announced to the host agent.
package portscan

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fastrand"

	"github.com/MunsMan/autoForward/pkg/wire"
)

// Protocol identifies whether a listening port is TCP or UDP.
type Protocol uint8

const (
	TCP Protocol = iota + 1
	UDP
)

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return "unknown"
	}
}

// ListeningPort is a single row of the port-enumeration oracle's output.
// Two ListeningPorts are equal (for the purpose of the scanner's diff) iff
// Port, Protocol, and App are all equal; IP is carried along but is not part
// of the identity: app changing for the same port is treated as
// close-and-reopen (IP changing for the same port, app unchanged, is not
// expected from lsof and is not specially handled).
type ListeningPort struct {
	Port     uint16
	Protocol Protocol
	App      string
	IP       string
}

// identity is the subset of ListeningPort used for set membership.
type identity struct {
	Port     uint16
	Protocol Protocol
	App      string
}

func (p ListeningPort) identity() identity {
	return identity{Port: p.Port, Protocol: p.Protocol, App: p.App}
}

// PortEnumerator abstracts the external process used to discover listening
// sockets, so the scanner's diff logic can be tested without forking a real
// lsof.
type PortEnumerator interface {
	Enumerate(ctx context.Context) ([]ListeningPort, error)
}

// Scanner polls a PortEnumerator on a fixed interval and emits CreateTcp /
// CreateUdp frames for newly observed ports into Outbound. It never blocks
// on Outbound: if the channel has no room, the emission is dropped and
// counted rather than allowed to stall the polling loop.
type Scanner struct {
	Enumerator PortEnumerator
	Outbound   chan<- wire.Message
	Interval   time.Duration
	Jitter     time.Duration
	Logger     zerolog.Logger
	Metrics    *Metrics

	mu    sync.Mutex
	known map[identity]ListeningPort
}

// NewScanner creates a Scanner with an initialized empty known-port set.
func NewScanner(enum PortEnumerator, outbound chan<- wire.Message) *Scanner {
	return &Scanner{
		Enumerator: enum,
		Outbound:   outbound,
		Interval:   5 * time.Second,
		known:      make(map[identity]ListeningPort),
	}
}

// Run polls the enumerator every Interval (plus up to Jitter of random
// delay) until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	for {
		if err := s.tick(ctx); err != nil {
			s.Logger.Warn().Err(err).Msg("port enumeration failed")
			if s.Metrics != nil {
				s.Metrics.enumerateErrors.Inc()
			}
		}

		d := s.Interval
		if s.Jitter > 0 {
			d += time.Duration(fastrand.Uint32n(uint32(s.Jitter)))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

// tick runs a single scan pass: enumerate, diff against Known, emit.
func (s *Scanner) tick(ctx context.Context) error {
	now, err := s.Enumerator.Enumerate(ctx)
	if err != nil {
		return err
	}

	nowSet := make(map[identity]ListeningPort, len(now))
	for _, p := range now {
		nowSet[p.identity()] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range nowSet {
		if _, ok := s.known[id]; !ok {
			s.emitCreate(p)
			s.known[id] = p
		}
	}
	for id, p := range s.known {
		if _, ok := nowSet[id]; !ok {
			s.logClosed(p)
			delete(s.known, id)
		}
	}
	return nil
}

// emitCreate sends a CreateTcp/CreateUdp announcement for p. Called with
// s.mu held.
func (s *Scanner) emitCreate(p ListeningPort) {
	function := wire.CreateTcp
	if p.Protocol == UDP {
		function = wire.CreateUdp
	}
	m := wire.NewMessage(function, p.Port, []byte(p.App))

	select {
	case s.Outbound <- m:
		s.Logger.Info().Uint16("port", p.Port).Str("protocol", p.Protocol.String()).Str("app", p.App).Msg("new listening port")
		if s.Metrics != nil {
			s.Metrics.created.Inc()
		}
	default:
		s.Logger.Warn().Uint16("port", p.Port).Msg("dropped create announcement: outbound queue full")
		if s.Metrics != nil {
			s.Metrics.emitDropped.Inc()
		}
	}
}

// logClosed records that p is no longer observed. The scanner emits no wire
// message for this, only a local log line; the host side only learns about
// it implicitly, by the transport closing or simply seeing no further
// traffic for that port.
func (s *Scanner) logClosed(p ListeningPort) {
	s.Logger.Info().Uint16("port", p.Port).Str("protocol", p.Protocol.String()).Str("app", p.App).Msg("port no longer listening")
	if s.Metrics != nil {
		s.Metrics.closed.Inc()
	}
}

// Known returns a snapshot of the currently tracked ports. The container
// pump's address resolver and the tests read it.
func (s *Scanner) Known() []ListeningPort {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ListeningPort, 0, len(s.known))
	for _, p := range s.known {
		out = append(out, p)
	}
	return out
}
