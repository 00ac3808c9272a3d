package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		function Function
		port     uint16
		body     []byte
	}{
		{"create-tcp", CreateTcp, 3000, []byte("svc")},
		{"create-udp", CreateUdp, 4000, []byte("app")},
		{"tcp-data", Tcp, 3000, []byte("hello")},
		{"udp-data", Udp, 53, []byte{1, 2, 3}},
		{"close-noop", Close, 1, nil},
		{"zero-length-body", Tcp, 65535, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMessage(tt.function, tt.port, tt.body)

			b, err := Encode(m)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			got, err := Decode(bytes.NewReader(b))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Header.Function != tt.function {
				t.Errorf("function = %v, want %v", got.Header.Function, tt.function)
			}
			if got.Header.Port != tt.port {
				t.Errorf("port = %d, want %d", got.Header.Port, tt.port)
			}
			if !bytes.Equal(got.Body, tt.body) {
				t.Errorf("body = %q, want %q", got.Body, tt.body)
			}
			if int(got.Header.Size) != len(got.Body) {
				t.Errorf("size %d does not match body length %d", got.Header.Size, len(got.Body))
			}
		})
	}
}

func TestDecodeCleanEOF(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestDecodeShortHeaderIsFatal(t *testing.T) {
	// three header bytes arrive, then the stream ends: this must not be
	// treated as a clean EOF.
	_, err := Decode(bytes.NewReader([]byte{0x00, 0x00, 0x00}))
	if err == nil {
		t.Fatal("expected an error for a short header")
	}
	if errors.Is(err, io.EOF) {
		t.Fatalf("short header after partial read must not decode as clean EOF, got %v", err)
	}
}

func TestDecodeUnknownFunctionRejected(t *testing.T) {
	// size=0, function=0xFF, port=1, reserved=0
	raw := []byte{0x00, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x01, 0x00}
	_, err := Decode(bytes.NewReader(raw))
	if !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("err = %v, want ErrUnknownFunction", err)
	}
}

func TestDecodeZeroPortRejected(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x00, 0x00, byte(Tcp), 0x00, 0x00, 0x00}
	_, err := Decode(bytes.NewReader(raw))
	if !errors.Is(err, ErrZeroPort) {
		t.Fatalf("err = %v, want ErrZeroPort", err)
	}
}

func TestDecodeShortBodyIsFatal(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x00, 0x05, byte(Tcp), 0x0B, 0xB8, 0x00, 'h', 'i'}
	_, err := Decode(bytes.NewReader(raw))
	if !errors.Is(err, ErrShortBody) {
		t.Fatalf("err = %v, want ErrShortBody", err)
	}
}

func TestEncodeRejectsZeroPort(t *testing.T) {
	_, err := Encode(NewMessage(Tcp, 0, []byte("x")))
	if !errors.Is(err, ErrZeroPort) {
		t.Fatalf("err = %v, want ErrZeroPort", err)
	}
}

func TestEncodeRejectsMismatchedSize(t *testing.T) {
	m := NewMessage(Tcp, 1, []byte("hello"))
	m.Header.Size = 3
	if _, err := Encode(m); err == nil {
		t.Fatal("expected an error for a mismatched size field")
	}
}

func TestReservedByteIgnoredOnReceive(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x00, 0x00, byte(Tcp), 0x00, 0x01, 0xFF}
	m, err := Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Header.Port != 1 {
		t.Fatalf("port = %d, want 1", m.Header.Port)
	}
}

func TestLargeBodyRoundTrips(t *testing.T) {
	body := bytes.Repeat([]byte{0xAB}, 1<<20)
	m := NewMessage(Tcp, 1, body)

	b, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.Body, body) {
		t.Fatal("large body did not round-trip")
	}
}
