// Package hostmux implements the host-side multiplexer: it owns the single
// transport connection, dispatches decoded frames to per-port listener
// tasks by label port, and serializes everything those tasks (and the
// port-registration intake) want to send back onto the transport.
package hostmux

import (
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MunsMan/autoForward/pkg/wire"
)

// Mux is the host-side multiplexer. Three loops run concurrently against
// the shared transport: Run's caller goroutine runs the read loop, and Run
// spawns the write loop and the registration loop.
type Mux struct {
	Transport io.ReadWriteCloser
	BindHost  string // defaults to "localhost"
	Logger    zerolog.Logger
	Metrics   *Metrics

	registry    *registry
	outbound    chan wire.Message
	defaultSink chan wire.Message

	wg sync.WaitGroup
}

// New creates a Mux over transport. transport should already have
// TCP_NODELAY set by the caller if it is a *net.TCPConn.
func New(transport io.ReadWriteCloser, logger zerolog.Logger, metrics *Metrics) *Mux {
	return &Mux{
		Transport:   transport,
		BindHost:    "localhost",
		Logger:      logger,
		Metrics:     metrics,
		registry:    newRegistry(),
		outbound:    make(chan wire.Message, 64),
		defaultSink: make(chan wire.Message, 64),
	}
}

// Outbound returns the channel producers (listener tasks, the scanner on
// the container side of a loopback test, synthesized replies) enqueue
// frames into for delivery to the transport. It is exported so components
// outside this package (e.g. the container-side forwarder's response path,
// when both sides are exercised in the same process for testing) can feed
// the write loop directly.
func (mx *Mux) Outbound() chan<- wire.Message {
	return mx.outbound
}

// Run starts the write and registration loops and then runs the read loop
// until the transport closes or decode hits a fatal error. It always
// returns once the transport is done; the returned error is nil for a clean
// shutdown (io.EOF at a frame boundary).
func (mx *Mux) Run() error {
	done := make(chan struct{})

	mx.wg.Add(2)
	go mx.writeLoop(done)
	go mx.registrationLoop(done)

	err := mx.readLoop(done)

	// Dropping the registry releases every listener task blocked on its
	// inbox, which is how a listener task observes that the transport
	// closed.
	mx.registry.closeAll()

	close(done)
	mx.wg.Wait()
	return err
}

func (mx *Mux) readLoop(done <-chan struct{}) error {
	for {
		m, err := wire.Decode(mx.Transport)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			// A corrupted stream cannot be resynchronized without a length
			// field we trust, so continuing past a decode error would
			// desync every subsequent frame. This closes the transport
			// instead of trying to recover mid-stream.
			mx.Logger.Error().Err(err).Msg("mux: frame decode error, closing transport")
			if mx.Metrics != nil {
				mx.Metrics.decodeErrors.Inc()
			}
			mx.Transport.Close()
			return err
		}
		mx.dispatch(*m)
	}
}

// dispatch routes a decoded message to its connection's inbox, or to the
// default sink if its port is not yet registered. A CreateTcp/CreateUdp for
// a port that already has a listener task is a re-announcement (the scanner
// treats an app change as close-and-reopen without ever closing the host
// side's registry entry); it is logged and dropped rather than delivered to
// the existing task's inbox, where it would be mistaken for the response to
// whatever request that task is currently waiting on.
func (mx *Mux) dispatch(m wire.Message) {
	if mx.Metrics != nil {
		mx.Metrics.framesByFunction(m.Header.Function).Inc()
	}
	c, registered := mx.registry.get(m.Header.Port)
	if registered && m.Header.Function.IsCreate() {
		mx.Logger.Warn().Uint16("port", m.Header.Port).Stringer("function", m.Header.Function).Msg("mux: re-announcement of already-registered port, dropping")
		return
	}
	if registered {
		c.inbox <- m
		return
	}
	mx.defaultSink <- m
}

func (mx *Mux) writeLoop(done <-chan struct{}) {
	defer mx.wg.Done()
	for {
		select {
		case m := <-mx.outbound:
			b, err := wire.Encode(m)
			if err != nil {
				mx.Logger.Error().Err(err).Msg("mux: failed to encode outgoing frame")
				continue
			}
			if _, err := mx.Transport.Write(b); err != nil {
				mx.Logger.Warn().Err(err).Msg("mux: write failed, transport likely closed")
				return
			}
		case <-done:
			return
		}
	}
}

func (mx *Mux) registrationLoop(done <-chan struct{}) {
	defer mx.wg.Done()
	for {
		select {
		case m := <-mx.defaultSink:
			mx.handleUnknownPort(m)
		case <-done:
			return
		}
	}
}

// handleUnknownPort is the default sink's intake handler: for
// CreateTcp/CreateUdp it spawns a new listener task and registers it;
// anything else is logged and dropped.
func (mx *Mux) handleUnknownPort(m wire.Message) {
	switch m.Header.Function {
	case wire.CreateTcp:
		task, err := newTCPListenerTask(mx.BindHost, m.Header.Port, string(m.Body), mx.outbound, mx.Logger, mx.Metrics)
		if err != nil {
			mx.Logger.Error().Uint16("port", m.Header.Port).Err(err).Msg("mux: failed to bind listener")
			return
		}
		mx.registry.set(task.conn)
		mx.Logger.Info().Uint16("label_port", task.conn.LabelPort).Uint16("host_port", task.conn.HostPort).Msg("listening")
		go task.run()
	case wire.CreateUdp:
		conn, pc, err := newUDPConnection(mx.BindHost, m.Header.Port, string(m.Body), mx.Metrics)
		if err != nil {
			mx.Logger.Error().Uint16("port", m.Header.Port).Err(err).Msg("mux: failed to bind udp listener")
			return
		}
		mx.registry.set(conn)
		mx.Logger.Info().Uint16("label_port", conn.LabelPort).Uint16("host_port", conn.HostPort).Msg("listening (udp, stub)")
		_ = pc // no UDP relay loop exists yet; see newUDPConnection's doc comment
	case wire.Close:
		// reserved; accepted as a no-op
	default:
		mx.Logger.Warn().Stringer("function", m.Header.Function).Uint16("port", m.Header.Port).Msg("mux: unexpected function on default sink, dropping")
		if mx.Metrics != nil {
			mx.Metrics.unexpectedFunction.Inc()
		}
	}
}

// Connections returns a snapshot of all registered connections, for tests
// and diagnostics.
func (mx *Mux) Connections() []*Connection {
	return mx.registry.snapshot()
}

// NoDelay sets TCP_NODELAY on conn if it is a *net.TCPConn. Exported as a
// helper since the two cmd/ binaries construct the transport themselves.
func NoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
}
