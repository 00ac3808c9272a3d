package hostmux

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"

	"github.com/MunsMan/autoForward/pkg/wire"
)

// Metrics holds the multiplexer's Prometheus counters.
type Metrics struct {
	set                *metrics.Set
	decodeErrors       *metrics.Counter
	bindContention     *metrics.Counter
	requestsForwarded  *metrics.Counter
	unexpectedFunction *metrics.Counter

	byFunction map[wire.Function]*metrics.Counter
}

// NewMetrics registers the multiplexer's counters in set.
func NewMetrics(set *metrics.Set) *Metrics {
	m := &Metrics{
		set:                set,
		decodeErrors:       set.NewCounter(`autoforward_hostmux_decode_errors_total`),
		bindContention:     set.NewCounter(`autoforward_hostmux_bind_contention_total`),
		requestsForwarded:  set.NewCounter(`autoforward_hostmux_requests_forwarded_total`),
		unexpectedFunction: set.NewCounter(`autoforward_hostmux_unexpected_function_total`),
		byFunction:         make(map[wire.Function]*metrics.Counter),
	}
	for _, fn := range []wire.Function{wire.CreateTcp, wire.CreateUdp, wire.Tcp, wire.Udp, wire.Close} {
		m.byFunction[fn] = set.NewCounter(fmt.Sprintf(`autoforward_hostmux_frames_total{function=%q}`, fn))
	}
	return m
}

// framesByFunction returns the counter for fn, registering one lazily if fn
// is not one of the known wire functions (decode already rejects those, so
// this only happens if the set of functions grows without this list being
// updated).
func (m *Metrics) framesByFunction(fn wire.Function) *metrics.Counter {
	if c, ok := m.byFunction[fn]; ok {
		return c
	}
	c := m.set.NewCounter(fmt.Sprintf(`autoforward_hostmux_frames_total{function=%q}`, fn))
	m.byFunction[fn] = c
	return c
}
