// File: core/ring/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package ring implements the single-producer/single-consumer descriptor
// ring shared between this process and the kernel-side (or loopback
// provider) datapath peer. Unlike core/concurrency's Vyukov-style MPMC ring,
// this layout is wire-exact: producer index, consumer index, a flags word,
// and a fixed-stride element area all live at fixed byte offsets so a
// non-Go peer mapping the same memory region agrees on the layout.

package ring

import (
	"errors"
	"sync/atomic"
)

// Flag is a bit in the ring's flags word. Flags are set by either side and
// observed by the other without taking a lock.
type Flag uint32

const (
	// FlagError marks the ring unusable; both sides must stop using it and
	// tear down through the owning socket.
	FlagError Flag = 1 << iota
	// FlagNeedPoke is set by the consumer side when it has gone to sleep and
	// needs the producer to issue a wakeup (POKE) before more descriptors
	// will be observed. Clearing it and re-checking is the core of the
	// lost-wakeup-free notify protocol.
	FlagNeedPoke
	// FlagAffinityChanged is set when the ring's backing queue has been
	// reassigned to a different CPU/queue pair and cached affinity hints are
	// stale.
	FlagAffinityChanged
)

// HeaderSize is the fixed size, in bytes, of the control header preceding
// the element area. The element area itself always starts HeaderSize bytes
// into the ring's backing memory, 64-byte aligned so it sits on its own
// cache lines independent of header traffic.
const HeaderSize = 64

// header is the wire-exact control block. Field order and size must not
// change: it is read by whatever is on the other end of the shared memory
// region, kernel or loopback peer alike.
type header struct {
	producerIndex uint32
	consumerIndex uint32
	flags         uint32
	reserved      uint32
	size          uint32
	elementStride uint32
	_             [HeaderSize - 24]byte
}

// Ring is a fixed-capacity, power-of-two-sized descriptor ring. A Ring value
// is safe for exactly one producer and one consumer to use concurrently;
// using it from more than one goroutine on either side requires external
// serialization by the caller; core/socket hands its rings out without any.
type Ring struct {
	hdr    *header
	elems  []byte
	size   uint32
	mask   uint32
	stride uint32
}

var (
	// ErrTooSmall is returned when the backing memory cannot hold the
	// requested number of elements.
	ErrTooSmall = errors.New("ring: backing memory too small")
	// ErrNotPowerOfTwo is returned when size is not a power of two.
	ErrNotPowerOfTwo = errors.New("ring: size must be a power of two")
	// ErrBadLayout is returned by Open when the existing header's stride or
	// size look inconsistent with the supplied memory region.
	ErrBadLayout = errors.New("ring: inconsistent header layout")
)

func isPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// New initializes a fresh ring of size elements, each elementStride bytes
// wide, inside mem. mem must be at least HeaderSize + size*elementStride
// bytes; it is typically a slice into a UMEM-backed mmap region or, for the
// loopback provider, a plain heap allocation.
func New(mem []byte, size, elementStride uint32) (*Ring, error) {
	if !isPowerOfTwo(size) {
		return nil, ErrNotPowerOfTwo
	}
	need := uint64(HeaderSize) + uint64(size)*uint64(elementStride)
	if uint64(len(mem)) < need {
		return nil, ErrTooSmall
	}
	r := newFromMem(mem, size, elementStride)
	r.hdr.producerIndex = 0
	r.hdr.consumerIndex = 0
	r.hdr.flags = 0
	r.hdr.size = size
	r.hdr.elementStride = elementStride
	return r, nil
}

// Open attaches to a ring whose header was already initialized by the other
// side (or by New on a shared region before handing a view to this side).
func Open(mem []byte) (*Ring, error) {
	if len(mem) < HeaderSize {
		return nil, ErrTooSmall
	}
	h := (*header)(headerPointer(mem))
	size := atomic.LoadUint32(&h.size)
	stride := atomic.LoadUint32(&h.elementStride)
	if !isPowerOfTwo(size) || stride == 0 {
		return nil, ErrBadLayout
	}
	need := uint64(HeaderSize) + uint64(size)*uint64(stride)
	if uint64(len(mem)) < need {
		return nil, ErrBadLayout
	}
	return newFromMem(mem, size, stride), nil
}

func newFromMem(mem []byte, size, stride uint32) *Ring {
	return &Ring{
		hdr:    (*header)(headerPointer(mem)),
		elems:  mem[HeaderSize : HeaderSize+uint64(size)*uint64(stride)],
		size:   size,
		mask:   size - 1,
		stride: stride,
	}
}

// SeedForTest overwrites the producer and consumer indices directly,
// bypassing Reserve/Submit. It exists so tests can exercise index-wrap
// behavior near the uint32 boundary without an unsafe workaround; production
// code has no use for it and must not call it.
func (r *Ring) SeedForTest(producer, consumer uint32) {
	atomic.StoreUint32(&r.hdr.producerIndex, producer)
	atomic.StoreUint32(&r.hdr.consumerIndex, consumer)
}

// IndicesForTest returns the raw producer/consumer index words, wraparound
// and all. Production code derives everything it needs from Pending/Reserve
// and has no use for the absolute values.
func (r *Ring) IndicesForTest() (producer, consumer uint32) {
	return atomic.LoadUint32(&r.hdr.producerIndex), atomic.LoadUint32(&r.hdr.consumerIndex)
}

// Size returns the number of element slots in the ring.
func (r *Ring) Size() uint32 { return r.size }

// Stride returns the byte width of one element slot.
func (r *Ring) Stride() uint32 { return r.stride }

// ReserveProducer attempts to reserve up to n contiguous slots for the
// producer side. It returns the starting index (mod-size interpretation is
// the caller's responsibility via ElementAt) and the number actually
// reserved, which may be less than n or zero if the ring is full.
func (r *Ring) ReserveProducer(n uint32) (idx uint32, got uint32) {
	prod := atomic.LoadUint32(&r.hdr.producerIndex)
	cons := atomic.LoadUint32(&r.hdr.consumerIndex)
	free := r.size - (prod - cons)
	if free == 0 {
		return prod, 0
	}
	if n > free {
		n = free
	}
	return prod, n
}

// SubmitProducer publishes n previously reserved slots to the consumer.
// The store uses release ordering semantics relative to the descriptor
// writes the caller performed via ElementAt before calling this.
func (r *Ring) SubmitProducer(n uint32) {
	sfence()
	atomic.AddUint32(&r.hdr.producerIndex, n)
}

// ReserveConsumer attempts to claim up to n contiguous produced slots. It
// returns the starting index and the number actually available.
func (r *Ring) ReserveConsumer(n uint32) (idx uint32, got uint32) {
	cons := atomic.LoadUint32(&r.hdr.consumerIndex)
	prod := atomic.LoadUint32(&r.hdr.producerIndex)
	avail := prod - cons
	if avail == 0 {
		return cons, 0
	}
	if n > avail {
		n = avail
	}
	return cons, n
}

// ReleaseConsumer returns n previously reserved slots to the producer as
// free capacity.
func (r *Ring) ReleaseConsumer(n uint32) {
	atomic.AddUint32(&r.hdr.consumerIndex, n)
}

// Pending reports the number of slots currently produced but not yet
// consumed. Approximate under concurrent access by design: a ring is
// SPSC, so only the non-owning side should treat this as a hint.
func (r *Ring) Pending() uint32 {
	prod := atomic.LoadUint32(&r.hdr.producerIndex)
	cons := atomic.LoadUint32(&r.hdr.consumerIndex)
	return prod - cons
}

// ElementAt returns a byte slice view over the element slot at the given
// absolute index (the caller passes indices returned by Reserve*, already
// offset from the base; this wraps them into the ring).
func (r *Ring) ElementAt(idx uint32) []byte {
	off := (idx & r.mask) * r.stride
	return r.elems[off : off+r.stride]
}

// Flags returns the current flags word.
func (r *Ring) Flags() Flag {
	return Flag(atomic.LoadUint32(&r.hdr.flags))
}

// SetFlags atomically ORs f into the flags word.
func (r *Ring) SetFlags(f Flag) {
	for {
		old := atomic.LoadUint32(&r.hdr.flags)
		nw := old | uint32(f)
		if old == nw || atomic.CompareAndSwapUint32(&r.hdr.flags, old, nw) {
			return
		}
	}
}

// ClearFlags atomically ANDs the complement of f into the flags word.
func (r *Ring) ClearFlags(f Flag) {
	for {
		old := atomic.LoadUint32(&r.hdr.flags)
		nw := old &^ uint32(f)
		if old == nw || atomic.CompareAndSwapUint32(&r.hdr.flags, old, nw) {
			return
		}
	}
}
