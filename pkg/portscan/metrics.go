package portscan

import "github.com/VictoriaMetrics/metrics"

// Metrics holds the scanner's Prometheus counters.
type Metrics struct {
	set             *metrics.Set
	created         *metrics.Counter
	closed          *metrics.Counter
	emitDropped     *metrics.Counter
	enumerateErrors *metrics.Counter
}

// NewMetrics registers the scanner's counters in set.
func NewMetrics(set *metrics.Set) *Metrics {
	return &Metrics{
		set:             set,
		created:         set.NewCounter(`autoforward_portscan_ports_created_total`),
		closed:          set.NewCounter(`autoforward_portscan_ports_closed_total`),
		emitDropped:     set.NewCounter(`autoforward_portscan_emit_dropped_total`),
		enumerateErrors: set.NewCounter(`autoforward_portscan_enumerate_errors_total`),
	}
}
