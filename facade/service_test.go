package facade_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xdpfabric/afxdp/core/notify"
	"github.com/xdpfabric/afxdp/core/offload"
	"github.com/xdpfabric/afxdp/core/program"
	"github.com/xdpfabric/afxdp/core/socket"
	"github.com/xdpfabric/afxdp/facade"
	"github.com/xdpfabric/afxdp/internal/cmddispatch"
)

func testConfig() *facade.Config {
	cfg := facade.DefaultConfig()
	cfg.NumWorkers = 1
	cfg.EnableMetrics = false
	return cfg
}

func TestNewWiresEverySubsystem(t *testing.T) {
	svc, err := facade.New(testConfig())
	require.NoError(t, err)
	require.NotNil(t, svc.Dispatcher())
	require.NotNil(t, svc.Config())
	require.NotNil(t, svc.Metrics())
	require.NotNil(t, svc.Debug())
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Stop())
}

func TestSocketBindActivateNotifyLifecycle(t *testing.T) {
	svc, err := facade.New(testConfig())
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	h, _ := svc.NewSocket()
	u, err := svc.NewUmem()
	require.NoError(t, err)

	require.NoError(t, svc.BindSocket(h, 1, 0, socket.BindRX|socket.BindTX, u))
	require.NoError(t, svc.ActivateSocket(h))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.NotifySocket(ctx, h, notify.WaitRX, 10*time.Millisecond)
	require.Error(t, err) // nothing is ever produced onto the RX ring in this test, so it times out

	require.NoError(t, svc.CloseSocket(h))
}

func TestCloseSocketUnknownHandleErrors(t *testing.T) {
	svc, err := facade.New(testConfig())
	require.NoError(t, err)
	require.Error(t, svc.CloseSocket(999))
}

func TestAttachAndDetachProgram(t *testing.T) {
	svc, err := facade.New(testConfig())
	require.NoError(t, err)

	key := program.Key{IfIndex: 1, Hook: "ingress", Queue: -1}
	rules := []program.Rule{{Match: program.MatchUDP, Action: program.ActionPass}}
	attached, err := svc.AttachProgram(key, rules)
	require.NoError(t, err)
	require.True(t, attached)

	require.True(t, svc.DetachProgram(key))
	require.False(t, svc.DetachProgram(key))
}

func TestAttachProgramRejectsEBPFWithoutEngine(t *testing.T) {
	svc, err := facade.New(testConfig())
	require.NoError(t, err)

	key := program.Key{IfIndex: 1, Hook: "ingress", Queue: -1}
	rules := []program.Rule{{Match: program.MatchUDP, Action: program.ActionEBPF}}
	_, err = svc.AttachProgram(key, rules)
	require.Error(t, err)
}

func TestInstallAndRevertOffload(t *testing.T) {
	svc, err := facade.New(testConfig())
	require.NoError(t, err)

	set := offload.Settings{Kind: offload.KindRSS, RSSHashKey: []byte{1, 2, 3}}
	require.NoError(t, svc.InstallOffload(1, set))
	require.NoError(t, svc.RevertOffload(1, offload.KindRSS))
}

func TestDispatchSocketGetSockoptInsufficientBuffer(t *testing.T) {
	svc, err := facade.New(testConfig())
	require.NoError(t, err)

	h, _ := svc.NewSocket()
	u, err := svc.NewUmem()
	require.NoError(t, err)
	require.NoError(t, svc.BindSocket(h, 1, 0, socket.BindRX|socket.BindTX, u))

	body := make([]byte, 8)
	hdr := cmddispatch.Header{
		Major:      uint32(cmddispatch.CmdSocketGetSockopt),
		Minor:      uint32(socket.OptStatistics),
		APIVersion: cmddispatch.APIVersion,
		ObjectType: cmddispatch.ObjectSocket,
	}
	// encode handle + caller's output buffer length (4 bytes, but stats wire form is 48)
	body[0] = byte(h)
	body[1] = byte(h >> 8)
	body[2] = byte(h >> 16)
	body[3] = byte(h >> 24)
	body[4] = 4

	_, err = svc.Dispatcher().Dispatch(context.Background(), hdr, body)
	require.Error(t, err)
}

func TestDispatchRejectsUnknownObjectCommand(t *testing.T) {
	svc, err := facade.New(testConfig())
	require.NoError(t, err)

	hdr := cmddispatch.Header{
		Major:      999,
		APIVersion: cmddispatch.APIVersion,
		ObjectType: cmddispatch.ObjectSocket,
	}
	_, err = svc.Dispatcher().Dispatch(context.Background(), hdr, nil)
	require.Error(t, err)
}
