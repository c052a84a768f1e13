// +build linux

// Package pool
// Author: momentics <momentics@gmail.com>
//
// Linux-specific buffer pool implementation.

package pool

import (
	"sync"

	"github.com/xdpfabric/afxdp/api"
)

// linuxBufferPool implements a sync.Pool-backed buffer pool for Linux. It
// tags each buffer with its NUMA node but allocates from the ordinary Go
// heap. api.Buffer is a plain struct (not an interface), so the pool
// itself is the Releaser every api.Buffer it hands out points back to.
type linuxBufferPool struct {
	pool    sync.Pool
	numaId  int
	bufSize int
	stats   api.BufferPoolStats
}

func (bp *linuxBufferPool) Get(size int, numaPreferred int) api.Buffer {
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
func (bp *linuxBufferPool) Put(b api.Buffer) {
	bp.pool.Put(b.Data)
}

func (bp *linuxBufferPool) Stats() api.BufferPoolStats {
	return bp.stats
}

// newBufferPool (Linux) creates a buffer pool for the specified NUMA node.
// TODO: hugepage/mmap-backed allocation for buffers handed off to UMEM.
func newBufferPool(numaNode int) api.BufferPool {
	return &linuxBufferPool{
		numaId:  numaNode,
		bufSize: 65536, // default buffer size
	}
}
