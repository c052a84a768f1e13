//go:build !linux

// Package pool
// Author: momentics <momentics@gmail.com>
//
// Off Linux there is no NUMA-aware allocator backing this pool; buffers
// fall back to a plain sync.Pool over heap-allocated slices.

package pool

import (
	"sync"

	"github.com/xdpfabric/afxdp/api"
)

type genericBufferPool struct {
	pool   sync.Pool
	numaId int
	stats  api.BufferPoolStats
}

func (bp *genericBufferPool) Get(size int, numaPreferred int) api.Buffer {
	if v := bp.pool.Get(); v != nil {
		data := v.([]byte)
		if cap(data) < size {
			data = make([]byte, size)
		}
		data = data[:size]
		return api.Buffer{Data: data, NUMA: bp.numaId, Pool: bp, Class: size}
	}
	return api.Buffer{Data: make([]byte, size), NUMA: bp.numaId, Pool: bp, Class: size}
}

// Put implements api.Releaser so api.Buffer.Release() can call back here.
func (bp *genericBufferPool) Put(b api.Buffer) {
	bp.pool.Put(b.Data)
}

func (bp *genericBufferPool) Stats() api.BufferPoolStats {
	return bp.stats
}

// newBufferPool (generic) creates a buffer pool for the specified NUMA
// node, ignored off Linux since there's no NUMA allocator to honor it.
func newBufferPool(numaNode int) api.BufferPool {
	return &genericBufferPool{numaId: numaNode}
}
