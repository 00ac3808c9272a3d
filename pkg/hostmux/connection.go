package hostmux

import "github.com/MunsMan/autoForward/pkg/wire"

// Protocol identifies whether a registered connection is TCP or UDP.
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

// Connection is the host-side record of one announced container port: the
// label the container uses (the key of the dispatch registry), the port
// actually bound on the host (which may differ if the label was taken), and
// the inbox the multiplexer delivers frames for this label into.
type Connection struct {
	LabelPort uint16
	HostPort  uint16
	Protocol  Protocol
	App       string

	inbox chan wire.Message
}

// Inbox returns the channel the multiplexer delivers frames addressed to
// LabelPort into. It is single-producer (the multiplexer's dispatch step)
// and single-consumer (the listener task).
func (c *Connection) Inbox() <-chan wire.Message {
	return c.inbox
}
