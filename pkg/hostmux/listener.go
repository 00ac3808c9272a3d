package hostmux

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strconv"
	"syscall"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/MunsMan/autoForward/pkg/wire"
)

// readChunkSize is the size of the buffer used to detect "end of request": a
// read returning fewer bytes than this is taken as the end-of-request
// signal, same as a half-close.
const readChunkSize = 64 * 1024

// bindWithFallback binds host:labelPort, retrying labelPort+1, +2, ... on
// EADDRINUSE until a free port is found.
func bindWithFallback(host string, labelPort uint16) (net.Listener, uint16, error) {
	port := labelPort
	for {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
		if err == nil {
			return ln, port, nil
		}
		if !isAddrInUse(err) {
			return nil, 0, err
		}
		port++
		if port == 0 {
			// wrapped around u16 without finding a free port
			return nil, 0, err
		}
	}
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// listenerTask is the per-port listener: it owns a bound host socket,
// accepts connections one at a time, and relays each one's request/response
// through the multiplexer's outbound queue and this task's inbox.
type listenerTask struct {
	conn *Connection
	ln   net.Listener

	outbound chan<- wire.Message
	logger   zerolog.Logger
	metrics  *Metrics
}

func newTCPListenerTask(bindHost string, labelPort uint16, app string, outbound chan<- wire.Message, logger zerolog.Logger, metrics *Metrics) (*listenerTask, error) {
	ln, hostPort, err := bindWithFallback(bindHost, labelPort)
	if err != nil {
		return nil, err
	}
	if hostPort != labelPort && metrics != nil {
		metrics.bindContention.Inc()
	}

	c := &Connection{
		LabelPort: labelPort,
		HostPort:  hostPort,
		Protocol:  TCP,
		App:       app,
		inbox:     make(chan wire.Message, 1),
	}

	return &listenerTask{
		conn:     c,
		ln:       ln,
		outbound: outbound,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// newUDPConnection mirrors newTCPListenerTask's bind-and-register
// bookkeeping for a CreateUdp announcement. The UDP forwarding path itself
// is left as an open runtime question: this claims a host UDP socket (so
// bind contention is still resolved and the port shows up in the registry)
// but leaves relaying datagrams unimplemented: no accept loop exists for
// UDP, and nothing currently drains the resulting Connection's inbox.
func newUDPConnection(bindHost string, labelPort uint16, app string, metrics *Metrics) (*Connection, net.PacketConn, error) {
	port := labelPort
	var pc net.PacketConn
	for {
		conn, err := net.ListenPacket("udp", net.JoinHostPort(bindHost, strconv.Itoa(int(port))))
		if err == nil {
			pc = conn
			break
		}
		if !isAddrInUse(err) {
			return nil, nil, err
		}
		port++
		if port == 0 {
			return nil, nil, err
		}
	}
	if port != labelPort && metrics != nil {
		metrics.bindContention.Inc()
	}

	c := &Connection{
		LabelPort: labelPort,
		HostPort:  port,
		Protocol:  UDP,
		App:       app,
		inbox:     make(chan wire.Message, 1),
	}
	return c, pc, nil
}

func (l *listenerTask) run() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return // listener closed: transport is shutting down
		}
		l.handle(conn)
	}
}

// handle processes exactly one accepted connection end to end before
// returning to Accept: read the whole request, forward it, write back
// whatever response comes back. Only one request per port is ever in
// flight at a time.
func (l *listenerTask) handle(conn net.Conn) {
	defer conn.Close()

	cid := xid.New()
	log := l.logger.With().Str("cid", cid.String()).Uint16("port", l.conn.LabelPort).Logger()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	body, err := readUntilEndOfRequest(conn, readChunkSize)
	if err != nil {
		log.Warn().Err(err).Msg("listener: failed to read request body")
		return
	}

	msg := wire.NewMessage(wire.Tcp, l.conn.LabelPort, body)
	l.outbound <- msg
	if l.metrics != nil {
		l.metrics.requestsForwarded.Inc()
	}

	resp, ok := <-l.conn.inbox
	if !ok {
		// transport closed while we were waiting for a response
		return
	}

	if _, err := conn.Write(resp.Body); err != nil {
		log.Warn().Err(err).Msg("listener: failed to write response")
	}
}

// readUntilEndOfRequest reads chunks of chunkSize bytes until the peer
// closes its write side or a read returns fewer bytes than chunkSize.
func readUntilEndOfRequest(r io.Reader, chunkSize int) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, chunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			if err == io.EOF {
				return buf.Bytes(), nil
			}
			return buf.Bytes(), err
		}
		if n < chunkSize {
			return buf.Bytes(), nil
		}
	}
}
