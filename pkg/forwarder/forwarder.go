// Package forwarder implements the container-side half of autoForward: it
// takes Tcp/Udp frames received from the host over the transport and
// relays them to (and from) the local service actually listening on that
// port.
package forwarder

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/MunsMan/autoForward/pkg/wire"
)

// AddressResolver maps a container-internal port to the address the
// forwarder should dial, mirroring the scanner's cached ip for that port.
type AddressResolver interface {
	Resolve(port uint16) (ip string, ok bool)
}

// Forwarder relays Tcp frames to a local service and returns the response as
// a Tcp frame with the same port label. Udp is handled but intentionally
// minimal: the function code decodes and is routed, but the datagram
// exchange is a single best-effort round trip, not a general proxy.
type Forwarder struct {
	Resolver AddressResolver
	Timeout  time.Duration
	Logger   zerolog.Logger
	Metrics  *Metrics

	// ReadBufferSize bounds how much of the response is buffered before the
	// connection is considered exhausted.
	ReadBufferSize int
}

// New creates a Forwarder with the default read buffer size.
func New(resolver AddressResolver) *Forwarder {
	return &Forwarder{
		Resolver:       resolver,
		Timeout:        10 * time.Second,
		ReadBufferSize: 1 << 20,
	}
}

// Handle dispatches req (a Tcp or Udp frame from the host) to the matching
// local service and returns the response frame to send back upstream. A nil
// response with a nil error means the frame was logged and dropped (unknown
// function, no retry attempted). On any connect, write, or read failure the
// forwarder still returns an empty-bodied response rather than nil, so the
// host listener's blocked inbox read is released instead of hanging forever.
func (f *Forwarder) Handle(ctx context.Context, req wire.Message) (*wire.Message, error) {
	switch req.Header.Function {
	case wire.Tcp:
		return f.handleTCP(ctx, req)
	case wire.Udp:
		return f.handleUDP(ctx, req)
	default:
		f.Logger.Warn().Stringer("function", req.Header.Function).Msg("forwarder: unexpected function, dropping")
		if f.Metrics != nil {
			f.Metrics.unexpectedFunction.Inc()
		}
		return nil, nil
	}
}

func (f *Forwarder) addr(port uint16) string {
	ip := "localhost"
	if f.Resolver != nil {
		if v, ok := f.Resolver.Resolve(port); ok && v != "" {
			ip = v
		}
	}
	return net.JoinHostPort(ip, strconv.Itoa(int(port)))
}

func (f *Forwarder) handleTCP(ctx context.Context, req wire.Message) (*wire.Message, error) {
	port := req.Header.Port
	addr := f.addr(port)

	start := time.Now()

	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		f.Logger.Warn().Uint16("port", port).Err(err).Msg("forwarder: connect failed")
		if f.Metrics != nil {
			f.Metrics.connectErrors.Inc()
		}
		return f.timeoutResponse(wire.Tcp, port), nil
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	conn.SetDeadline(time.Now().Add(f.Timeout))

	if _, err := conn.Write(req.Body); err != nil {
		f.Logger.Warn().Uint16("port", port).Err(err).Msg("forwarder: write failed")
		if f.Metrics != nil {
			f.Metrics.writeErrors.Inc()
		}
		return f.timeoutResponse(wire.Tcp, port), nil
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}

	resp, err := readBounded(conn, f.ReadBufferSize)
	if err != nil && err != io.EOF {
		f.Logger.Warn().Uint16("port", port).Err(err).Msg("forwarder: read failed")
		if f.Metrics != nil {
			f.Metrics.readErrors.Inc()
		}
		return f.timeoutResponse(wire.Tcp, port), nil
	}

	if f.Metrics != nil {
		f.Metrics.roundTrip.Update(time.Since(start).Seconds())
		f.Metrics.bytesForwarded.Add(float64(len(req.Body) + len(resp)))
	}

	m := wire.NewMessage(wire.Tcp, port, resp)
	return &m, nil
}

// handleUDP sends req.Body as a single datagram to the local service and
// waits for one reply datagram. There is no retry, no multi-datagram
// session tracking, and no guarantee the local service treats a single
// request/response as meaningful.
func (f *Forwarder) handleUDP(ctx context.Context, req wire.Message) (*wire.Message, error) {
	port := req.Header.Port
	addr := f.addr(port)

	conn, err := net.Dial("udp", addr)
	if err != nil {
		f.Logger.Warn().Uint16("port", port).Err(err).Msg("forwarder: udp dial failed")
		if f.Metrics != nil {
			f.Metrics.connectErrors.Inc()
		}
		return f.timeoutResponse(wire.Udp, port), nil
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(f.Timeout))

	if _, err := conn.Write(req.Body); err != nil {
		if f.Metrics != nil {
			f.Metrics.writeErrors.Inc()
		}
		return f.timeoutResponse(wire.Udp, port), nil
	}

	buf := make([]byte, f.ReadBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		if f.Metrics != nil {
			f.Metrics.readErrors.Inc()
		}
		return f.timeoutResponse(wire.Udp, port), nil
	}

	m := wire.NewMessage(wire.Udp, port, buf[:n])
	return &m, nil
}

// timeoutResponse builds the empty-bodied response used to unblock a
// waiting host listener when connecting to, writing to, or reading from the
// local service failed.
func (f *Forwarder) timeoutResponse(function wire.Function, port uint16) *wire.Message {
	m := wire.NewMessage(function, port, nil)
	return &m
}

// readBounded reads from r until EOF or until limit bytes have been read,
// whichever comes first.
func readBounded(r io.Reader, limit int) ([]byte, error) {
	lr := io.LimitReader(r, int64(limit))
	return io.ReadAll(lr)
}
