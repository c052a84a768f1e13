package control_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/xdpfabric/afxdp/control"
)

func TestPrometheusExporterAccumulatesDeltas(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := control.NewPrometheusExporter(reg)

	e.Observe(control.SocketCounters{RxPackets: 10, TxPackets: 2})
	e.Observe(control.SocketCounters{RxPackets: 25, TxPackets: 2})

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)

	var rxPackets float64
	for _, mf := range mfs {
		if mf.GetName() == "afxdp_rx_packets_total" {
			rxPackets = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(25), rxPackets)
}

func TestPrometheusExporterIgnoresNonIncreasingValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := control.NewPrometheusExporter(reg)

	e.Observe(control.SocketCounters{RxDropped: 5})
	e.Observe(control.SocketCounters{RxDropped: 5})
	e.Observe(control.SocketCounters{RxDropped: 3})

	_, err := reg.Gather()
	require.NoError(t, err)
}
