package containerpump

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MunsMan/autoForward/pkg/forwarder"
	"github.com/MunsMan/autoForward/pkg/portscan"
	"github.com/MunsMan/autoForward/pkg/wire"
)

type noopEnumerator struct{}

func (noopEnumerator) Enumerate(ctx context.Context) ([]portscan.ListeningPort, error) {
	return nil, nil
}

func startEchoServer(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				n, _ := conn.Read(buf)
				conn.Write(buf[:n])
			}()
		}
	}()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

// TestPumpForwardsRequestAndResponse drives a Pump over an in-memory pipe
// standing in for the host side, and checks a Tcp frame addressed to a real
// local echo server comes back with the echoed body.
func TestPumpForwardsRequestAndResponse(t *testing.T) {
	port := startEchoServer(t)

	a, b := net.Pipe()
	defer b.Close()

	scanner := portscan.NewScanner(noopEnumerator{}, nil)
	scanner.Logger = zerolog.New(io.Discard)

	fwd := forwarder.New(nil)
	fwd.Timeout = 2 * time.Second

	pump := New(a, scanner, fwd, zerolog.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pump.Run(ctx)

	req := wire.NewMessage(wire.Tcp, port, []byte("hi"))
	enc, err := wire.Encode(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := b.Write(enc); err != nil {
		t.Fatalf("write: %v", err)
	}

	b.SetReadDeadline(time.Now().Add(3 * time.Second))
	resp, err := wire.Decode(b)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if string(resp.Body) != "hi" {
		t.Fatalf("response body = %q, want %q", resp.Body, "hi")
	}
	if resp.Header.Port != port {
		t.Fatalf("response port = %d, want %d", resp.Header.Port, port)
	}
}
