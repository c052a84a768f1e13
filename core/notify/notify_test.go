package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xdpfabric/afxdp/core/iface"
	"github.com/xdpfabric/afxdp/core/notify"
	"github.com/xdpfabric/afxdp/core/ring"
	"github.com/xdpfabric/afxdp/core/socket"
	"github.com/xdpfabric/afxdp/core/umem"
	"github.com/xdpfabric/afxdp/internal/provider"
)

func setup(t *testing.T) (*socket.Socket, *provider.Loopback, *ring.Ring, *ring.Ring) {
	t.Helper()
	p := provider.NewLoopback(1, iface.Capabilities{})
	reg := umem.NewRegistry()
	u, err := reg.Register(make([]byte, 4096*16), 4096, 0)
	require.NoError(t, err)

	s := socket.New()
	require.NoError(t, s.Configure(socket.WithRxRingSize(4), socket.WithTxRingSize(4)))
	require.NoError(t, s.Bind(p, 1, 0, socket.BindRX|socket.BindTX, u))
	require.NoError(t, s.Activate())

	rx, _, _, comp, err := s.Rings()
	require.NoError(t, err)
	return s, p, rx, comp
}

func TestNotifyReturnsImmediatelyWhenRingHasData(t *testing.T) {
	s, p, rx, _ := setup(t)
	idx, got := rx.ReserveProducer(1)
	require.Equal(t, uint32(1), got)
	rx.SubmitProducer(got)

	e := notify.NewEngine(nil, 1000)
	res, err := e.Notify(context.Background(), s, p, 1, 0, notify.WaitRX, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res&notify.ResultRXAvailable != 0)
	_ = idx
}

func TestNotifyTimesOutOnEmptyRing(t *testing.T) {
	s, p, _, _ := setup(t)
	e := notify.NewEngine(nil, 1000)
	_, err := e.Notify(context.Background(), s, p, 1, 0, notify.WaitRX, 5*time.Millisecond)
	require.Error(t, err)
}

func TestNotifyAsyncCancel(t *testing.T) {
	s, p, _, _ := setup(t)
	e := notify.NewEngine(nil, 1000)

	a := e.NotifyAsync(context.Background(), s, p, 1, 0, notify.WaitRX, time.Second)
	require.Equal(t, 1, e.PendingCount())
	require.NoError(t, a.Cancel())
	<-a.Done()
	require.Error(t, a.Err())
	require.Eventually(t, func() bool { return e.PendingCount() == 0 }, time.Second, time.Millisecond)
}

func TestWaitObservesDataProducedAfterBlocking(t *testing.T) {
	s, p, rx, _ := setup(t)
	e := notify.NewEngine(nil, 1000)

	go func() {
		time.Sleep(2 * time.Millisecond)
		_, got := rx.ReserveProducer(1)
		rx.SubmitProducer(got)
	}()

	res, err := e.Notify(context.Background(), s, p, 1, 0, notify.WaitRX, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res&notify.ResultRXAvailable != 0)
}

func TestNotifyPokeTXOnlyDoesNotBlock(t *testing.T) {
	s, p, _, _ := setup(t)
	e := notify.NewEngine(nil, 1000)

	start := time.Now()
	res, err := e.Notify(context.Background(), s, p, 1, 0, notify.PokeTX, 0)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 100*time.Millisecond, "POKE_TX with no WAIT bit must not block")
	require.Equal(t, notify.Result(0), res&notify.ResultRXAvailable)
}

func TestNotifyComposedPokeAndWaitAcrossDirections(t *testing.T) {
	s, p, _, comp := setup(t)
	e := notify.NewEngine(nil, 1000)

	go func() {
		time.Sleep(2 * time.Millisecond)
		_, got := comp.ReserveProducer(1)
		comp.SubmitProducer(got)
	}()

	res, err := e.Notify(context.Background(), s, p, 1, 0, notify.PokeRX|notify.PokeTX|notify.WaitTX, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res&notify.ResultTXCompAvailable != 0)
}

func TestNotifyRejectsWaitOnUnboundDirection(t *testing.T) {
	p := provider.NewLoopback(1, iface.Capabilities{})
	reg := umem.NewRegistry()
	u, err := reg.Register(make([]byte, 4096*16), 4096, 0)
	require.NoError(t, err)

	s := socket.New()
	require.NoError(t, s.Configure(socket.WithRxRingSize(4)))
	require.NoError(t, s.Bind(p, 1, 0, socket.BindRX, u))
	require.NoError(t, s.Activate())

	e := notify.NewEngine(nil, 1000)
	_, err = e.Notify(context.Background(), s, p, 1, 0, notify.WaitTX, 10*time.Millisecond)
	require.Error(t, err, "socket has no completion ring because it was bound RX-only")
}
