package hostmux

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/MunsMan/autoForward/pkg/wire"
)

// newTestMux wires a Mux to one end of an in-memory pipe and returns the
// mux and the peer end a test drives directly as "the container side".
func newTestMux(t *testing.T) (*Mux, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	mx := New(a, discardLogger(), nil)
	mx.BindHost = "127.0.0.1"
	t.Cleanup(func() { b.Close() })
	return mx, b
}

func readFrame(t *testing.T, r io.Reader) wire.Message {
	t.Helper()
	m, err := wire.Decode(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return *m
}

func writeFrame(t *testing.T, w io.Writer, m wire.Message) {
	t.Helper()
	b, err := wire.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := w.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// TestMuxCreateAndEcho exercises the end-to-end "create a TCP listener, send
// a request, get a response" path: the peer announces a port, a real TCP
// client dials the bound host port, and the peer (standing in for the
// container's forwarder) echoes the request back as the response.
func TestMuxCreateAndEcho(t *testing.T) {
	mx, peer := newTestMux(t)
	runDone := make(chan error, 1)
	go func() { runDone <- mx.Run() }()

	writeFrame(t, peer, wire.NewMessage(wire.CreateTcp, 19001, []byte("echo-app")))

	var hostPort uint16
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conns := mx.Connections()
		if len(conns) == 1 {
			hostPort = conns[0].HostPort
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if hostPort == 0 {
		t.Fatal("listener never registered")
	}

	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", itoa(hostPort)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	client.Write([]byte("ping"))
	if cw, ok := client.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}

	req := readFrame(t, peer)
	if req.Header.Function != wire.Tcp || req.Header.Port != 19001 {
		t.Fatalf("unexpected request frame: %+v", req.Header)
	}
	if string(req.Body) != "ping" {
		t.Fatalf("request body = %q, want %q", req.Body, "ping")
	}

	writeFrame(t, peer, wire.NewMessage(wire.Tcp, 19001, []byte("pong")))

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("client read: %v", err)
	}
	if string(buf[:n]) != "pong" {
		t.Fatalf("client read = %q, want %q", buf[:n], "pong")
	}

	peer.Close()
	<-runDone
}

// TestMuxBindContention verifies that when the label port is already bound
// on the host, the listener binds a different host port and the registered
// connection keeps the original label port.
func TestMuxBindContention(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()
	label := uint16(busy.Addr().(*net.TCPAddr).Port)

	mx, peer := newTestMux(t)
	go mx.Run()

	writeFrame(t, peer, wire.NewMessage(wire.CreateTcp, label, []byte("app")))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conns := mx.Connections()
		if len(conns) == 1 {
			c := conns[0]
			if c.LabelPort != label {
				t.Fatalf("label port changed: got %d, want %d", c.LabelPort, label)
			}
			if c.HostPort == label {
				t.Fatalf("host port should differ from busy label port %d", label)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("listener never registered")
}

// TestMuxConcurrentPortsNoCrossDelivery registers two label ports and checks
// that a frame addressed to one never reaches the other's inbox.
func TestMuxConcurrentPortsNoCrossDelivery(t *testing.T) {
	mx, peer := newTestMux(t)
	go mx.Run()

	writeFrame(t, peer, wire.NewMessage(wire.CreateTcp, 19101, []byte("a")))
	writeFrame(t, peer, wire.NewMessage(wire.CreateTcp, 19102, []byte("b")))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(mx.Connections()) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(mx.Connections()) != 2 {
		t.Fatal("both listeners never registered")
	}

	var portA, portB *Connection
	for _, c := range mx.Connections() {
		switch c.LabelPort {
		case 19101:
			portA = c
		case 19102:
			portB = c
		}
	}
	if portA == nil || portB == nil {
		t.Fatal("missing expected connections")
	}

	writeFrame(t, peer, wire.NewMessage(wire.Tcp, 19101, []byte("for-a")))

	select {
	case m := <-portA.Inbox():
		if string(m.Body) != "for-a" {
			t.Fatalf("portA got %q, want %q", m.Body, "for-a")
		}
	case <-portB.Inbox():
		t.Fatal("frame for port A delivered to port B")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
