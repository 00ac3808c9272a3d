package forwarder

import "github.com/VictoriaMetrics/metrics"

// Metrics holds the forwarder's Prometheus counters and the round-trip
// latency histogram.
type Metrics struct {
	set                *metrics.Set
	connectErrors      *metrics.Counter
	writeErrors        *metrics.Counter
	readErrors         *metrics.Counter
	unexpectedFunction *metrics.Counter
	bytesForwarded     *metrics.Counter
	roundTrip          *metrics.Histogram
}

// NewMetrics registers the forwarder's metrics in set.
func NewMetrics(set *metrics.Set) *Metrics {
	return &Metrics{
		set:                set,
		connectErrors:      set.NewCounter(`autoforward_forwarder_connect_errors_total`),
		writeErrors:        set.NewCounter(`autoforward_forwarder_write_errors_total`),
		readErrors:         set.NewCounter(`autoforward_forwarder_read_errors_total`),
		unexpectedFunction: set.NewCounter(`autoforward_forwarder_unexpected_function_total`),
		bytesForwarded:     set.NewCounter(`autoforward_forwarder_bytes_forwarded_total`),
		roundTrip:          set.NewHistogram(`autoforward_forwarder_round_trip_seconds`),
	}
}
