// File: core/umem/umem.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package umem implements the shared packet-buffer region (UMEM): a single
// mmap-backed allocation split into fixed-size chunks that every ring in a
// socket references by offset instead of copying data. The free-chunk
// tracking uses a channel-based free list, and the mmap/registration shape
// follows the pack's AF_XDP socket code.

package umem

import (
	"fmt"
	"sync/atomic"

	"github.com/xdpfabric/afxdp/api"
)

const (
	minChunkSize = 4096
	maxChunkSize = 65536
)

// Registry tracks every Umem region registered by this process. A Registry
// is not required to share a single UMEM across sockets -- each call to
// Register produces an independent region -- but keeping a registry
// separates "registration" from "the region itself" and gives callers a
// single place to enumerate live regions for diagnostics.
type Registry struct {
	regions []*Umem
}

// NewRegistry returns an empty UMEM registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register validates and wraps base as a new UMEM region. base must already
// be allocated (mmap'd or heap-backed, depending on the caller); Register
// does not allocate memory itself, keeping the split between
// "who owns the mapping" and "who interprets it as chunks" between the
// provider and the UMEM layer.
func (r *Registry) Register(base []byte, chunkSize, headroom uint32) (*Umem, error) {
	u, err := newUmem(base, chunkSize, headroom)
	if err != nil {
		return nil, err
	}
	r.regions = append(r.regions, u)
	return u, nil
}

// Regions returns a snapshot of every region currently registered.
func (r *Registry) Regions() []*Umem {
	out := make([]*Umem, len(r.regions))
	copy(out, r.regions)
	return out
}

// Umem is one registered packet-buffer region split into fixed-size chunks.
// Chunk offsets, not pointers, cross the ring boundary so the same address
// scheme remains valid whether the peer is this process, the kernel, or (in
// the loopback provider) another goroutine.
type Umem struct {
	base      []byte
	chunkSize uint32
	headroom  uint32
	numChunks uint32

	refcount int32
	freeList chan uint32 // free chunk indices
	munmap   func([]byte) error
}

func newUmem(base []byte, chunkSize, headroom uint32) (*Umem, error) {
	if chunkSize < minChunkSize || chunkSize > maxChunkSize || chunkSize&(chunkSize-1) != 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument,
			fmt.Sprintf("umem: chunk size %d must be a power of two in [%d,%d]", chunkSize, minChunkSize, maxChunkSize))
	}
	if headroom >= chunkSize {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "umem: headroom must be smaller than chunk size")
	}
	numChunks := uint32(len(base)) / chunkSize // final partial chunk is ignored
	if numChunks == 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "umem: base region too small for one chunk")
	}
	u := &Umem{
		base:      base,
		chunkSize: chunkSize,
		headroom:  headroom,
		numChunks: numChunks,
		refcount:  1,
		freeList:  make(chan uint32, numChunks),
	}
	for i := uint32(0); i < numChunks; i++ {
		u.freeList <- i
	}
	return u, nil
}

// ChunkSize returns the configured chunk size in bytes.
func (u *Umem) ChunkSize() uint32 { return u.chunkSize }

// Headroom returns the reserved headroom in bytes at the start of every chunk.
func (u *Umem) Headroom() uint32 { return u.headroom }

// NumChunks returns the number of usable chunks in the region.
func (u *Umem) NumChunks() uint32 { return u.numChunks }

// Share increments the region's refcount and returns the same *Umem so
// multiple sockets (SHARE_UMEM) can reference one region. Close must be
// called once per Share (and once for the original Register) before the
// backing memory is released.
func (u *Umem) Share() *Umem {
	atomic.AddInt32(&u.refcount, 1)
	return u
}

// Close decrements the refcount and, at zero, unmaps the backing memory if
// an unmap function was supplied (mmap-backed regions); heap-backed regions
// (the loopback provider, tests) simply drop the reference.
func (u *Umem) Close() error {
	if atomic.AddInt32(&u.refcount, -1) > 0 {
		return nil
	}
	if u.munmap != nil {
		return u.munmap(u.base)
	}
	return nil
}

// AllocChunk reserves a free chunk and returns its chunk offset (index).
// The second return value is false when the region is exhausted.
func (u *Umem) AllocChunk() (uint32, bool) {
	select {
	case idx := <-u.freeList:
		return idx, true
	default:
		return 0, false
	}
}

// FreeChunk returns a chunk index to the free list. Callers must not use
// the chunk's memory after calling FreeChunk.
func (u *Umem) FreeChunk(idx uint32) {
	select {
	case u.freeList <- idx:
	default:
		// freeList is sized to numChunks; a default case here means a
		// double-free, which is a caller bug rather than something to
		// silently paper over.
		panic("umem: FreeChunk of an index already free")
	}
}

// Chunk returns the byte slice backing chunk idx, including its headroom.
func (u *Umem) Chunk(idx uint32) []byte {
	off := uint64(idx) * uint64(u.chunkSize)
	return u.base[off : off+uint64(u.chunkSize)]
}

// Data returns the chunk's payload area, past the configured headroom, for
// the given descriptor length.
func (u *Umem) Data(idx uint32, length uint32) []byte {
	c := u.Chunk(idx)
	start := u.headroom
	end := start + length
	return c[start:end]
}

// PackAddr encodes a chunk index and an in-chunk byte offset into the
// single uint64 address carried by ring descriptors, per the layout
// offset_in_chunk<<48 | chunk_offset.
func PackAddr(chunkIdx uint32, offsetInChunk uint32) uint64 {
	return uint64(offsetInChunk)<<48 | uint64(chunkIdx)
}

// UnpackAddr reverses PackAddr.
func UnpackAddr(addr uint64) (chunkIdx uint32, offsetInChunk uint32) {
	return uint32(addr & 0xFFFFFFFFFFFF), uint32(addr >> 48)
}
