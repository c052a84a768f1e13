// File: core/socket/sockopt.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The closed sockopt enumeration from the socket table (RING_INFO, hook ids,
// per-ring error codes, SHARE_UMEM, checksum offload, processor affinity)
// given concrete Go-level accessors that the facade's GET/SET_SOCKOPT
// handlers (facade/sockopt.go) dispatch onto by selector, instead of the surface only existing
// as library methods nothing on the wire can reach.

package socket

import (
	"github.com/xdpfabric/afxdp/api"
	"github.com/xdpfabric/afxdp/core/ring"
)

// SockOpt is the closed selector for GET_SOCKOPT/SET_SOCKOPT, carried in the
// command header's Minor field.
type SockOpt uint32

const (
	OptStatistics SockOpt = iota + 1
	OptRingInfo
	OptRxHookID
	OptTxHookID
	OptRxError
	OptRxFillError
	OptTxError
	OptTxCompletionError
	OptShareUmem
	OptOffloadUDPChecksumTx
	OptOffloadUDPChecksumTxCapabilities
	OptRxProcessorAffinity
	OptTxProcessorAffinity
	OptRxRingSize
	OptTxRingSize
	OptRxFillRingSize
	OptTxCompletionRingSize
	OptPollMode
)

// RingKind names one of a socket's four rings for the per-ring sockopts
// (RING_INFO, the *_ERROR family, processor affinity).
type RingKind int

const (
	RingRX RingKind = iota
	RingTX
	RingFill
	RingComp
)

func (s *Socket) ringByKind(kind RingKind) *ring.Ring {
	switch kind {
	case RingRX:
		return s.rx
	case RingTX:
		return s.tx
	case RingFill:
		return s.fill
	case RingComp:
		return s.comp
	default:
		return nil
	}
}

// SockErrorCode is the closed result set of the RX_ERROR/RX_FILL_ERROR/
// TX_ERROR/TX_COMPLETION_ERROR sockopts.
type SockErrorCode uint32

const (
	SockNoError SockErrorCode = iota
	SockErrorInterfaceDetach
	SockErrorInvalidRing
)

// RingErrorCode reports the closed error code for one ring, derived from
// the socket's lifecycle state and that ring's ERROR flag.
func (s *Socket) RingErrorCode(kind RingKind) (SockErrorCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ringByKind(kind)
	if r == nil {
		return SockNoError, api.NewError(api.ErrCodeNotSupported, "socket: ring not bound for this direction")
	}
	if r.Flags()&ring.FlagError == 0 {
		return SockNoError, nil
	}
	switch s.state {
	case StateDetachedInterface:
		return SockErrorInterfaceDetach, nil
	case StateInvalidRing:
		return SockErrorInvalidRing, nil
	default:
		return SockErrorInterfaceDetach, nil
	}
}

// RingInfo mirrors the RING_INFO sockopt's per-ring record: the fixed byte
// offsets a caller needs to interpret the ring's shared memory directly.
type RingInfo struct {
	DescriptorOffset  uint32
	ProducerIdxOffset uint32
	ConsumerIdxOffset uint32
	FlagsOffset       uint32
	Size              uint32
	ElementStride     uint32
}

// RingInfo returns kind's layout record, or an error if that ring was never
// allocated (its direction wasn't included in the BindFlags passed to Bind).
func (s *Socket) RingInfo(kind RingKind) (RingInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ringByKind(kind)
	if r == nil {
		return RingInfo{}, api.NewError(api.ErrCodeNotSupported, "socket: ring not bound for this direction")
	}
	return RingInfo{
		DescriptorOffset:  ring.HeaderSize,
		ProducerIdxOffset: 0,
		ConsumerIdxOffset: 4,
		FlagsOffset:       8,
		Size:              r.Size(),
		ElementStride:     r.Stride(),
	}, nil
}

// ProcessorAffinity returns a placeholder CPU affinity hint for kind's ring
// and clears its AFFINITY_CHANGED flag, matching the table's "affinity
// queries clear AFFINITY_CHANGED on the relevant ring" rule. The reference
// loopback provider doesn't pin rings to real CPUs, so the returned value is
// always 0; a hardware-backed provider would report the pinned CPU here.
func (s *Socket) ProcessorAffinity(kind RingKind) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ringByKind(kind)
	if r == nil {
		return 0, api.NewError(api.ErrCodeNotSupported, "socket: ring not bound for this direction")
	}
	r.ClearFlags(ring.FlagAffinityChanged)
	return 0, nil
}
