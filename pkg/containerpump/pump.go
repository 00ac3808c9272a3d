// Package containerpump wires the container-side port scanner and
// forwarder to the single transport connection to the host agent: it reads
// Tcp/Udp frames off the transport and feeds them to the forwarder,
// multiplexing the forwarder's responses and the scanner's Create
// announcements back onto the same connection.
package containerpump

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MunsMan/autoForward/pkg/forwarder"
	"github.com/MunsMan/autoForward/pkg/portscan"
	"github.com/MunsMan/autoForward/pkg/wire"
)

// Pump owns the container side of the transport connection.
type Pump struct {
	Transport io.ReadWriter
	Scanner   *portscan.Scanner
	Forwarder *forwarder.Forwarder
	Logger    zerolog.Logger

	outbound chan wire.Message
}

// New creates a Pump. The scanner's Outbound field is pointed at the pump's
// internal outbound queue, so scanner announcements and forwarder responses
// share one writer goroutine.
func New(transport io.ReadWriter, scanner *portscan.Scanner, fwd *forwarder.Forwarder, logger zerolog.Logger) *Pump {
	p := &Pump{
		Transport: transport,
		Scanner:   scanner,
		Forwarder: fwd,
		Logger:    logger,
		outbound:  make(chan wire.Message, 64),
	}
	scanner.Outbound = p.outbound
	return p
}

// Run starts the scanner and the write loop, then runs the read loop until
// ctx is cancelled or the transport closes. It blocks until everything has
// stopped.
func (p *Pump) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := p.Scanner.Run(ctx); err != nil && ctx.Err() == nil {
			p.Logger.Warn().Err(err).Msg("containerpump: scanner exited")
		}
	}()

	go func() {
		defer wg.Done()
		p.writeLoop(ctx)
	}()

	// The read loop blocks in Decode, so cancelling ctx closes the
	// transport to release it.
	go func() {
		<-ctx.Done()
		if c, ok := p.Transport.(io.Closer); ok {
			c.Close()
		}
	}()

	err := p.readLoop(ctx)
	cancel()
	wg.Wait()
	return err
}

func (p *Pump) writeLoop(ctx context.Context) {
	for {
		select {
		case m := <-p.outbound:
			b, err := wire.Encode(m)
			if err != nil {
				p.Logger.Error().Err(err).Msg("containerpump: failed to encode outgoing frame")
				continue
			}
			if _, err := p.Transport.Write(b); err != nil {
				p.Logger.Warn().Err(err).Msg("containerpump: write failed, transport likely closed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pump) readLoop(ctx context.Context) error {
	for {
		m, err := wire.Decode(p.Transport)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		go p.handle(ctx, *m)
	}
}

// handle dispatches one decoded frame to the forwarder and queues its
// response, if any, for the write loop. Each frame is handled in its own
// goroutine so a slow local service on one port never blocks traffic to
// another port.
func (p *Pump) handle(ctx context.Context, m wire.Message) {
	resp, err := p.Forwarder.Handle(ctx, m)
	if err != nil {
		p.Logger.Error().Err(err).Uint16("port", m.Header.Port).Msg("containerpump: forwarder error")
		return
	}
	if resp == nil {
		return
	}
	select {
	case p.outbound <- *resp:
	case <-ctx.Done():
	}
}
