package umem_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xdpfabric/afxdp/core/umem"
)

func TestRegisterRejectsBadChunkSize(t *testing.T) {
	r := umem.NewRegistry()
	base := make([]byte, 1<<20)

	_, err := r.Register(base, 3000, 0)
	require.Error(t, err)

	_, err = r.Register(base, 4096, 4096)
	require.Error(t, err, "headroom equal to chunk size must be rejected")
}

func TestRegisterSplitsChunksAndIgnoresPartial(t *testing.T) {
	r := umem.NewRegistry()
	base := make([]byte, 4096*10+100) // 10 full chunks plus a partial one

	u, err := r.Register(base, 4096, 256)
	require.NoError(t, err)
	require.Equal(t, uint32(10), u.NumChunks())
}

func TestAllocFreeChunkRoundTrip(t *testing.T) {
	r := umem.NewRegistry()
	base := make([]byte, 4096*4)
	u, err := r.Register(base, 4096, 0)
	require.NoError(t, err)

	seen := map[uint32]bool{}
	for i := 0; i < 4; i++ {
		idx, ok := u.AllocChunk()
		require.True(t, ok)
		require.False(t, seen[idx], "chunk indices must not repeat while none are freed")
		seen[idx] = true
	}

	_, ok := u.AllocChunk()
	require.False(t, ok, "exhausted region must report no free chunk")

	var freed uint32
	for idx := range seen {
		freed = idx
		break
	}
	u.FreeChunk(freed)

	idx, ok := u.AllocChunk()
	require.True(t, ok)
	require.Equal(t, freed, idx)
}

func TestPackUnpackAddrRoundTrip(t *testing.T) {
	addr := umem.PackAddr(12345, 678)
	chunk, off := umem.UnpackAddr(addr)
	require.Equal(t, uint32(12345), chunk)
	require.Equal(t, uint32(678), off)
}

func TestShareRefcountsBeforeClose(t *testing.T) {
	r := umem.NewRegistry()
	base := make([]byte, 4096*2)
	u, err := r.Register(base, 4096, 0)
	require.NoError(t, err)

	shared := u.Share()
	require.Same(t, u, shared)

	require.NoError(t, u.Close())   // drops the Share() reference
	require.NoError(t, shared.Close()) // drops the Register() reference, no backing unmap configured
}
