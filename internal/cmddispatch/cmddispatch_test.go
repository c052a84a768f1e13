package cmddispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xdpfabric/afxdp/api"
	"github.com/xdpfabric/afxdp/internal/cmddispatch"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := cmddispatch.Header{Major: 3, Minor: 7, APIVersion: cmddispatch.APIVersion, ObjectType: cmddispatch.ObjectSocket}
	buf := cmddispatch.EncodeHeader(h)
	require.Len(t, buf, cmddispatch.HeaderSize)

	got, err := cmddispatch.DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, err := cmddispatch.DecodeHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDispatchRejectsUnknownCommand(t *testing.T) {
	d := cmddispatch.NewDispatcher()
	_, err := d.Dispatch(context.Background(), cmddispatch.Header{
		Major: uint32(cmddispatch.CmdSocketBind), APIVersion: cmddispatch.APIVersion, ObjectType: cmddispatch.ObjectSocket,
	}, nil)
	require.Error(t, err)
}

func TestDispatchRejectsBadAPIVersion(t *testing.T) {
	d := cmddispatch.NewDispatcher()
	d.Register(cmddispatch.ObjectSocket, cmddispatch.CmdSocketBind, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		return &cmddispatch.Response{}, nil
	})
	_, err := d.Dispatch(context.Background(), cmddispatch.Header{
		Major: uint32(cmddispatch.CmdSocketBind), APIVersion: 99, ObjectType: cmddispatch.ObjectSocket,
	}, nil)
	require.Error(t, err)
}

func TestDispatchBouncesBodyAwayFromCaller(t *testing.T) {
	d := cmddispatch.NewDispatcher()
	var seen []byte
	d.Register(cmddispatch.ObjectProgram, cmddispatch.CmdProgramCreate, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		seen = req.Body
		return &cmddispatch.Response{}, nil
	})

	body := []byte{1, 2, 3, 4}
	_, err := d.Dispatch(context.Background(), cmddispatch.Header{
		Major: uint32(cmddispatch.CmdProgramCreate), APIVersion: cmddispatch.APIVersion, ObjectType: cmddispatch.ObjectProgram,
	}, body)
	require.NoError(t, err)

	body[0] = 0xFF
	require.Equal(t, byte(1), seen[0], "handler's body must be independent of the caller's buffer")
}

func TestDispatchMapsPlainErrorToInternal(t *testing.T) {
	d := cmddispatch.NewDispatcher()
	d.Register(cmddispatch.ObjectInterface, cmddispatch.CmdInterfaceOffloadRSSSet, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		return nil, context.DeadlineExceeded
	})
	_, err := d.Dispatch(context.Background(), cmddispatch.Header{
		Major: uint32(cmddispatch.CmdInterfaceOffloadRSSSet), APIVersion: cmddispatch.APIVersion, ObjectType: cmddispatch.ObjectInterface,
	}, nil)
	require.Error(t, err)
	ae, ok := err.(*api.Error)
	require.True(t, ok)
	require.Equal(t, api.ErrCodeInternal, ae.Code)
}

func TestPendCompleteWait(t *testing.T) {
	d := cmddispatch.NewDispatcher()
	d.Register(cmddispatch.ObjectSocket, cmddispatch.CmdSocketNotifyAsync, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		id := d.NewPending()
		go func() {
			time.Sleep(5 * time.Millisecond)
			d.Complete(id, &cmddispatch.Response{Body: []byte("done")}, nil)
		}()
		return &cmddispatch.Response{Pending: true, CommandID: id}, nil
	})

	resp, err := d.Dispatch(context.Background(), cmddispatch.Header{
		Major: uint32(cmddispatch.CmdSocketNotifyAsync), APIVersion: cmddispatch.APIVersion, ObjectType: cmddispatch.ObjectSocket,
	}, nil)
	require.NoError(t, err)
	require.True(t, resp.Pending)
	require.Equal(t, 1, d.PendingCount())

	final, err := d.Wait(context.Background(), resp.CommandID)
	require.NoError(t, err)
	require.Equal(t, []byte("done"), final.Body)
	require.Equal(t, 0, d.PendingCount())
}

func TestWaitUnknownIDFails(t *testing.T) {
	d := cmddispatch.NewDispatcher()
	_, err := d.Wait(context.Background(), 12345)
	require.Error(t, err)
}

func TestCopyOutInsufficientBuffer(t *testing.T) {
	dst := make([]byte, 2)
	_, err := cmddispatch.CopyOut(dst, []byte{1, 2, 3})
	require.Error(t, err)
	ae, ok := err.(*api.Error)
	require.True(t, ok)
	require.Equal(t, api.ErrCodeInsufficientBuffer, ae.Code)
	require.Equal(t, 3, ae.Context["required"])
}

func TestCopyOutFits(t *testing.T) {
	dst := make([]byte, 4)
	n, err := cmddispatch.CopyOut(dst, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 3, n)
}
