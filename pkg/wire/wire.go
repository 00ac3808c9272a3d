// Package wire implements the framing used between the host and container
// autoForward agents: an 8-byte header followed by a size-prefixed body.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the fixed size of a frame header in bytes.
const HeaderSize = 8

// Function is the single-byte discriminator in a frame header. The bit
// pattern carries a weak type hint: bit 1 and bit 2 distinguish TCP/UDP, bit
// 3 marks a "create listener" frame.
type Function uint8

const (
	Close     Function = 0b0000_0000 // reserved; decodes as a no-op
	Udp       Function = 0b0000_0010
	Tcp       Function = 0b0000_0100
	CreateUdp Function = 0b0000_1010
	CreateTcp Function = 0b0000_1100
)

func (f Function) String() string {
	switch f {
	case Close:
		return "Close"
	case Udp:
		return "Udp"
	case Tcp:
		return "Tcp"
	case CreateUdp:
		return "CreateUdp"
	case CreateTcp:
		return "CreateTcp"
	default:
		return fmt.Sprintf("Function(%#08b)", uint8(f))
	}
}

// Valid reports whether f is one of the defined function codes.
func (f Function) Valid() bool {
	switch f {
	case Close, Udp, Tcp, CreateUdp, CreateTcp:
		return true
	default:
		return false
	}
}

// IsCreate reports whether f announces a new listening port.
func (f Function) IsCreate() bool {
	return f == CreateTcp || f == CreateUdp
}

// Header is the fixed 8-byte frame header: size (4), function (1), port (2),
// reserved (1).
type Header struct {
	Size     uint32
	Function Function
	Port     uint16
}

// Message is a decoded frame: a header plus exactly Size bytes of body.
type Message struct {
	Header Header
	Body   []byte
}

// ErrShortHeader indicates a header was not fully readable after the stream
// had already produced at least one byte of it; this is a fatal frame error,
// not a clean end-of-stream.
var ErrShortHeader = errors.New("wire: short header read")

// ErrShortBody indicates fewer body bytes were available than the header's
// size field promised.
var ErrShortBody = errors.New("wire: short body read")

// ErrUnknownFunction indicates a header's function byte is not one of the
// defined codes.
var ErrUnknownFunction = errors.New("wire: unknown function code")

// ErrZeroPort indicates a header's port field was zero, which is never valid
// on the wire.
var ErrZeroPort = errors.New("wire: port must not be zero")

// Encode serializes m as a header followed by its body. The caller is
// responsible for writing the result to the transport as a single logical
// write so that frames from concurrent producers are never interleaved.
func Encode(m Message) ([]byte, error) {
	if int(m.Header.Size) != len(m.Body) {
		return nil, fmt.Errorf("wire: header size %d does not match body length %d", m.Header.Size, len(m.Body))
	}
	if m.Header.Port == 0 {
		return nil, ErrZeroPort
	}
	if !m.Header.Function.Valid() {
		return nil, ErrUnknownFunction
	}

	b := make([]byte, HeaderSize+len(m.Body))
	binary.BigEndian.PutUint32(b[0:4], m.Header.Size)
	b[4] = byte(m.Header.Function)
	binary.BigEndian.PutUint16(b[5:7], m.Header.Port)
	b[7] = 0 // reserved
	copy(b[HeaderSize:], m.Body)
	return b, nil
}

// NewMessage builds a Message with a header derived from function, port, and
// the length of body.
func NewMessage(function Function, port uint16, body []byte) Message {
	return Message{
		Header: Header{
			Size:     uint32(len(body)),
			Function: function,
			Port:     port,
		},
		Body: body,
	}
}

// Decode reads one frame from r.
//
// If zero bytes are read before any header byte arrives, Decode returns
// io.EOF to signal a clean end of stream. Any other short read of the header
// is ErrShortHeader. A short read of the body is ErrShortBody. An unknown
// function byte or a zero port is rejected without consuming the body.
func Decode(r io.Reader) (*Message, error) {
	var hb [HeaderSize]byte
	n, err := io.ReadFull(r, hb[:])
	if n == 0 && errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortHeader, err)
	}

	h := Header{
		Size:     binary.BigEndian.Uint32(hb[0:4]),
		Function: Function(hb[4]),
		Port:     binary.BigEndian.Uint16(hb[5:7]),
	}
	// hb[7] is reserved and ignored on receive.

	if !h.Function.Valid() {
		return nil, fmt.Errorf("%w: %#02x", ErrUnknownFunction, byte(h.Function))
	}
	if h.Port == 0 {
		return nil, ErrZeroPort
	}

	body := make([]byte, h.Size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortBody, err)
	}

	return &Message{Header: h, Body: body}, nil
}
