package inspect_test

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xdpfabric/afxdp/core/inspect"
	"github.com/xdpfabric/afxdp/core/program"
)

type noEngines struct{}

func (noEngines) EBPFEngineRegistered() bool { return false }

func buildUDPFrame(dstPort uint16) []byte {
	frame := make([]byte, 14+20+8+4)
	binary.BigEndian.PutUint16(frame[12:14], 0x0800) // IPv4
	frame[14] = 0x45                                 // version 4, IHL 5
	frame[14+9] = 17                                 // UDP
	copy(frame[14+16:14+20], net.ParseIP("192.168.1.5").To4())
	binary.BigEndian.PutUint16(frame[34:36], 5000)
	binary.BigEndian.PutUint16(frame[36:38], dstPort)
	return frame
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	p, err := program.Compile([]program.Rule{
		{Match: program.MatchUDPDst, Port: 53, Action: program.ActionDrop},
		{Match: program.MatchUDP, Action: program.ActionPass},
	}, noEngines{})
	require.NoError(t, err)

	res := inspect.Evaluate(p, buildUDPFrame(53))
	require.Equal(t, inspect.DispositionDrop, res.Disposition)

	res = inspect.Evaluate(p, buildUDPFrame(8080))
	require.Equal(t, inspect.DispositionPass, res.Disposition)
}

func TestEvaluateTruncatedFrame(t *testing.T) {
	p, err := program.Compile([]program.Rule{{Match: program.MatchUDP, Action: program.ActionDrop}}, noEngines{})
	require.NoError(t, err)

	res := inspect.Evaluate(p, []byte{0x00, 0x01})
	require.True(t, res.Truncated)
	require.Equal(t, inspect.DispositionPass, res.Disposition)
}

func TestEvaluateRedirectCarriesTarget(t *testing.T) {
	p, err := program.Compile([]program.Rule{
		{Match: program.MatchUDP, Action: program.ActionRedirect, RedirectIfIndex: 4, RedirectQueue: 2},
	}, noEngines{})
	require.NoError(t, err)

	res := inspect.Evaluate(p, buildUDPFrame(1234))
	require.Equal(t, inspect.DispositionRedirect, res.Disposition)
	require.Equal(t, 4, res.RedirectIfIndex)
	require.Equal(t, 2, res.RedirectQueue)
}

func TestEvaluateIPv4Match(t *testing.T) {
	p, err := program.Compile([]program.Rule{
		{Match: program.MatchIPv4, IPv4: net.ParseIP("192.168.1.5"), Action: program.ActionDrop},
	}, noEngines{})
	require.NoError(t, err)

	res := inspect.Evaluate(p, buildUDPFrame(53))
	require.Equal(t, inspect.DispositionDrop, res.Disposition)
}

func TestEvaluateIPv4MatchIgnoresSourceAddress(t *testing.T) {
	p, err := program.Compile([]program.Rule{
		{Match: program.MatchIPv4, IPv4: net.ParseIP("10.0.0.1"), Action: program.ActionDrop},
	}, noEngines{})
	require.NoError(t, err)

	// buildUDPFrame writes 192.168.1.5 into the destination field; the
	// rule's address placed in the source field must not make it match.
	frame := buildUDPFrame(53)
	copy(frame[14+12:14+16], net.ParseIP("10.0.0.1").To4())
	res := inspect.Evaluate(p, frame)
	require.Equal(t, inspect.DispositionPass, res.Disposition)
}

func TestEvaluateMatchAll(t *testing.T) {
	p, err := program.Compile([]program.Rule{
		{Match: program.MatchAll, Action: program.ActionDrop},
	}, noEngines{})
	require.NoError(t, err)

	res := inspect.Evaluate(p, buildUDPFrame(53))
	require.Equal(t, inspect.DispositionDrop, res.Disposition)
}

func TestEvaluateUDPDstRequiresExactPort(t *testing.T) {
	p, err := program.Compile([]program.Rule{
		{Match: program.MatchUDPDst, Port: 53, Action: program.ActionDrop},
	}, noEngines{})
	require.NoError(t, err)

	require.Equal(t, inspect.DispositionDrop, inspect.Evaluate(p, buildUDPFrame(53)).Disposition)
	require.Equal(t, inspect.DispositionPass, inspect.Evaluate(p, buildUDPFrame(54)).Disposition)
}

func buildTCPFrame(dstPort uint16, flags byte) []byte {
	frame := make([]byte, 14+20+20)
	binary.BigEndian.PutUint16(frame[12:14], 0x0800)
	frame[14] = 0x45
	frame[14+9] = 6 // TCP
	binary.BigEndian.PutUint16(frame[34:36], 5000)
	binary.BigEndian.PutUint16(frame[36:38], dstPort)
	frame[34+12] = 0x50 // data offset 5 (20 bytes), no options
	frame[34+13] = flags
	return frame
}

func TestEvaluateTCPControlDst(t *testing.T) {
	p, err := program.Compile([]program.Rule{
		{Match: program.MatchTCPControlDst, Port: 443, Action: program.ActionDrop},
	}, noEngines{})
	require.NoError(t, err)

	syn := buildTCPFrame(443, 0x02)
	require.Equal(t, inspect.DispositionDrop, inspect.Evaluate(p, syn).Disposition)

	dataOnly := buildTCPFrame(443, 0x10) // ACK only, no SYN/FIN/RST
	require.Equal(t, inspect.DispositionPass, inspect.Evaluate(p, dataOnly).Disposition)
}
