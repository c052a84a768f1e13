// File: control/prometheus.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus exporter for the socket STATISTICS counters named in the
// sockopt surface (rx_packets, tx_packets, rx_dropped, rx_truncated,
// rx_invalid_desc, tx_invalid_desc). Grounded on
// penguintechinc-marchproxy/penguintechinc-iceshelves's prometheus usage:
// a small set of process-lifetime counters registered once and mutated
// via Add, no labels beyond what the metric name already encodes.

package control

import "github.com/prometheus/client_golang/prometheus"

// SocketCounters is the snapshot shape PrometheusExporter.Observe expects.
// It mirrors core/socket.Stats without importing core/socket, keeping
// control/ decoupled from the datapath packages it observes.
type SocketCounters struct {
	RxPackets     uint64
	TxPackets     uint64
	RxDropped     uint64
	RxTruncated   uint64
	RxInvalidDesc uint64
	TxInvalidDesc uint64
}

// PrometheusExporter registers and updates the socket STATISTICS counters
// as Prometheus counter metrics.
type PrometheusExporter struct {
	rxPackets     prometheus.Counter
	txPackets     prometheus.Counter
	rxDropped     prometheus.Counter
	rxTruncated   prometheus.Counter
	rxInvalidDesc prometheus.Counter
	txInvalidDesc prometheus.Counter

	prev SocketCounters
}

// NewPrometheusExporter builds the six counters and registers them with
// reg. Passing prometheus.NewRegistry() keeps tests isolated from the
// global default registry.
func NewPrometheusExporter(reg prometheus.Registerer) *PrometheusExporter {
	e := &PrometheusExporter{
		rxPackets:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "afxdp", Name: "rx_packets_total", Help: "RX frames delivered to the application."}),
		txPackets:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "afxdp", Name: "tx_packets_total", Help: "TX frames submitted by the application."}),
		rxDropped:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "afxdp", Name: "rx_dropped_total", Help: "RX frames dropped by a DROP-action program."}),
		rxTruncated:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "afxdp", Name: "rx_truncated_total", Help: "RX frames too short to parse."}),
		rxInvalidDesc: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "afxdp", Name: "rx_invalid_desc_total", Help: "RX descriptors that failed a ring consistency check."}),
		txInvalidDesc: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "afxdp", Name: "tx_invalid_desc_total", Help: "TX descriptors that failed a ring consistency check."}),
	}
	reg.MustRegister(e.rxPackets, e.txPackets, e.rxDropped, e.rxTruncated, e.rxInvalidDesc, e.txInvalidDesc)
	return e
}

// Observe adds the delta between cur and the previously observed snapshot
// to each counter. Counters are monotonic by construction (core/socket.Stats
// only ever grows), so a negative delta indicates the socket was replaced
// rather than having regressed, and is treated as a reset to cur.
func (e *PrometheusExporter) Observe(cur SocketCounters) {
	addDelta(e.rxPackets, e.prev.RxPackets, cur.RxPackets)
	addDelta(e.txPackets, e.prev.TxPackets, cur.TxPackets)
	addDelta(e.rxDropped, e.prev.RxDropped, cur.RxDropped)
	addDelta(e.rxTruncated, e.prev.RxTruncated, cur.RxTruncated)
	addDelta(e.rxInvalidDesc, e.prev.RxInvalidDesc, cur.RxInvalidDesc)
	addDelta(e.txInvalidDesc, e.prev.TxInvalidDesc, cur.TxInvalidDesc)
	e.prev = cur
}

func addDelta(c prometheus.Counter, prev, cur uint64) {
	if cur <= prev {
		return
	}
	c.Add(float64(cur - prev))
}
