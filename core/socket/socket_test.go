package socket_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xdpfabric/afxdp/core/iface"
	"github.com/xdpfabric/afxdp/core/ring"
	"github.com/xdpfabric/afxdp/core/socket"
	"github.com/xdpfabric/afxdp/core/umem"
	"github.com/xdpfabric/afxdp/internal/provider"
)

func newBoundSocket(t *testing.T) (*socket.Socket, *provider.Loopback, *umem.Umem) {
	t.Helper()
	p := provider.NewLoopback(1, iface.Capabilities{ZeroCopy: true, ChecksumTx: true, MaxQueueSize: 4096})
	reg := umem.NewRegistry()
	u, err := reg.Register(make([]byte, 4096*64), 4096, 0)
	require.NoError(t, err)

	s := socket.New()
	require.NoError(t, s.Configure(socket.WithRxRingSize(8), socket.WithTxRingSize(8)))
	require.NoError(t, s.Bind(p, 1, 0, socket.BindRX|socket.BindTX, u))
	return s, p, u
}

func TestLifecycleHappyPath(t *testing.T) {
	s, _, _ := newBoundSocket(t)
	require.Equal(t, socket.StateBound, s.State())
	require.NoError(t, s.Activate())
	require.Equal(t, socket.StateActivated, s.State())

	rx, tx, fill, comp, err := s.Rings()
	require.NoError(t, err)
	require.NotNil(t, rx)
	require.NotNil(t, tx)
	require.NotNil(t, fill)
	require.NotNil(t, comp)

	require.NoError(t, s.Close())
	require.Equal(t, socket.StateClosed, s.State())
	require.NoError(t, s.Close(), "close must be idempotent")
}

func TestConfigureRejectedAfterBind(t *testing.T) {
	s, _, _ := newBoundSocket(t)
	err := s.Configure(socket.WithRxRingSize(16))
	require.Error(t, err)
}

func TestActivateRejectedBeforeBind(t *testing.T) {
	s := socket.New()
	require.NoError(t, s.Configure())
	err := s.Activate()
	require.Error(t, err)
}

func TestShareUmemMustBeBoundFirst(t *testing.T) {
	p := provider.NewLoopback(2, iface.Capabilities{})
	reg := umem.NewRegistry()
	u, err := reg.Register(make([]byte, 4096*64), 4096, 0)
	require.NoError(t, err)

	owner := socket.New()
	require.NoError(t, owner.Configure())

	sharer := socket.New()
	require.NoError(t, sharer.Configure(socket.WithShareUmem(owner)))
	err = sharer.Bind(p, 1, 1, socket.BindRX|socket.BindTX, u)
	require.Error(t, err, "sharer must not bind before the owner is bound")

	require.NoError(t, owner.Bind(p, 1, 0, socket.BindRX|socket.BindTX, u))
	require.NoError(t, sharer.Bind(p, 1, 1, socket.BindRX|socket.BindTX, u))
}

func TestBindRejectsFlagsWithNeitherDirection(t *testing.T) {
	p := provider.NewLoopback(1, iface.Capabilities{})
	reg := umem.NewRegistry()
	u, err := reg.Register(make([]byte, 4096*64), 4096, 0)
	require.NoError(t, err)

	s := socket.New()
	require.NoError(t, s.Configure())
	require.Error(t, s.Bind(p, 1, 0, 0, u))
}

func TestBindRejectsGenericAndNativeTogether(t *testing.T) {
	p := provider.NewLoopback(1, iface.Capabilities{})
	reg := umem.NewRegistry()
	u, err := reg.Register(make([]byte, 4096*64), 4096, 0)
	require.NoError(t, err)

	s := socket.New()
	require.NoError(t, s.Configure())
	require.Error(t, s.Bind(p, 1, 0, socket.BindRX|socket.BindGeneric|socket.BindNative, u))
}

func TestBindTXOnlyLeavesRXRingsNil(t *testing.T) {
	p := provider.NewLoopback(1, iface.Capabilities{})
	reg := umem.NewRegistry()
	u, err := reg.Register(make([]byte, 4096*64), 4096, 0)
	require.NoError(t, err)

	s := socket.New()
	require.NoError(t, s.Configure(socket.WithTxRingSize(8), socket.WithCompRingSize(8)))
	require.NoError(t, s.Bind(p, 1, 0, socket.BindTX, u))

	rx, tx, fill, comp, err := s.Rings()
	require.NoError(t, err)
	require.Nil(t, rx)
	require.NotNil(t, tx)
	require.Nil(t, fill)
	require.NotNil(t, comp)
}

func TestNoteDetachedTransition(t *testing.T) {
	s, p, _ := newBoundSocket(t)
	require.NoError(t, s.Activate())
	rx, tx, _, _, err := s.Rings()
	require.NoError(t, err)

	p.Detach(1, 0)

	require.Eventually(t, func() bool {
		return s.State() == socket.StateDetachedInterface
	}, time.Second, time.Millisecond, "detach must propagate automatically without a manual NoteDetached call")

	require.True(t, rx.Flags()&ring.FlagError != 0)
	require.True(t, tx.Flags()&ring.FlagError != 0)
}
