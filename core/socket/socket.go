// File: core/socket/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package socket implements the AF_XDP-style socket lifecycle state machine:
// CREATED -> CONFIGURED -> BOUND -> ACTIVATED, with CLOSED reachable from
// any state and DETACHED_INTERFACE / INVALID_RING reachable from BOUND or
// ACTIVATED when the world moves out from under the socket. Grounded on the state-
// guarded mutation pattern used throughout the pack's control-plane code
// (ehrlich-b-go-ublk's Controller.AddDevice/SetParams), with a per-object
// mutex guarding the lifecycle field.

package socket

import (
	"sync"

	"github.com/xdpfabric/afxdp/api"
	"github.com/xdpfabric/afxdp/core/iface"
	"github.com/xdpfabric/afxdp/core/ring"
	"github.com/xdpfabric/afxdp/core/umem"
)

// State is one node of the socket lifecycle state machine.
type State int

const (
	StateCreated State = iota
	StateConfigured
	StateBound
	StateActivated
	StateDetachedInterface
	StateInvalidRing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateConfigured:
		return "CONFIGURED"
	case StateBound:
		return "BOUND"
	case StateActivated:
		return "ACTIVATED"
	case StateDetachedInterface:
		return "DETACHED_INTERFACE"
	case StateInvalidRing:
		return "INVALID_RING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ringSizeDefault is used for any ring size option left unset at Configure time.
const ringSizeDefault = 2048

// BindFlags selects which rings Bind allocates and which driver mode the
// queue binds in, mirroring the bind(if,queue,flags) call in the socket
// table: RX and/or TX (at least one required) and GENERIC xor NATIVE.
type BindFlags uint32

const (
	// BindRX allocates the RX data ring and its fill ring.
	BindRX BindFlags = 1 << iota
	// BindTX allocates the TX data ring and its completion ring.
	BindTX
	// BindGeneric requests the generic (copy-mode) driver path.
	BindGeneric
	// BindNative requests the native (zero-copy) driver path.
	BindNative
)

func (f BindFlags) validate() error {
	if f&(BindRX|BindTX) == 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "socket: bind requires at least one of RX or TX")
	}
	if f&BindGeneric != 0 && f&BindNative != 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "socket: bind cannot request both GENERIC and NATIVE")
	}
	return nil
}

// Socket is one AF_XDP-style datapath endpoint: a pair of owned rings
// (RX/TX) plus a fill/completion ring pair either owned outright or shared
// with the UMEM's other sockets via SHARE_UMEM.
type Socket struct {
	mu    sync.Mutex
	state State

	opts options

	umemRegion *umem.Umem
	rx, tx     *ring.Ring
	fill, comp *ring.Ring

	provider  iface.Provider
	ifIndex   int
	queueID   int
	bindFlags BindFlags
	closeCh   chan struct{}

	layout Layout
	stats  Stats
}

// Stats mirrors the socket STATISTICS sockopt surface; control.SocketCounters
// has the same fields for control.PrometheusExporter.Observe.
type Stats struct {
	RxPackets      uint64
	TxPackets      uint64
	RxDropped      uint64
	RxTruncated    uint64
	RxInvalidDesc  uint64
	TxInvalidDesc  uint64
}

// New returns a socket in CREATED state. It does nothing else: no memory is
// allocated until Configure.
func New() *Socket {
	return &Socket{state: StateCreated, opts: defaultOptions(), closeCh: make(chan struct{})}
}

// State returns the socket's current lifecycle state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func invalidState(from State, op string) error {
	return api.NewError(api.ErrCodeInvalidState, "socket: "+op+" invalid in state "+from.String())
}

// Configure sets socket options (ring sizes, SHARE_UMEM target, poll mode)
// prior to binding. Valid only from CREATED or CONFIGURED, so callers can
// call it more than once to accumulate options before Bind.
func (s *Socket) Configure(opts ...Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated && s.state != StateConfigured {
		return invalidState(s.state, "configure")
	}
	for _, o := range opts {
		if err := o(&s.opts); err != nil {
			return err
		}
	}
	s.state = StateConfigured
	return nil
}

// Bind attaches the socket to an interface queue through provider under
// flags, records u as its UMEM, and allocates whichever rings flags selects:
// RX (+ fill) if BindRX is set, TX (+ completion) if BindTX is set, with
// fill/completion taken from the SHARE_UMEM target when one is configured.
// Valid only from CONFIGURED.
func (s *Socket) Bind(p iface.Provider, ifIndex, queueID int, flags BindFlags, u *umem.Umem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConfigured {
		return invalidState(s.state, "bind")
	}
	if err := flags.validate(); err != nil {
		return err
	}
	if u == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "socket: bind requires a umem region")
	}

	if err := p.Open(ifIndex); err != nil {
		return err
	}
	detach, err := p.BindQueue(ifIndex, queueID)
	if err != nil {
		return err
	}

	s.umemRegion = u
	s.provider = p
	s.ifIndex = ifIndex
	s.queueID = queueID
	s.bindFlags = flags

	if flags&BindRX != 0 {
		rxMem := make([]byte, ring.HeaderSize+uint64(s.opts.rxSize)*8)
		s.rx, err = ring.New(rxMem, s.opts.rxSize, 8)
		if err != nil {
			return err
		}
	}
	if flags&BindTX != 0 {
		txMem := make([]byte, ring.HeaderSize+uint64(s.opts.txSize)*8)
		s.tx, err = ring.New(txMem, s.opts.txSize, 8)
		if err != nil {
			return err
		}
	}

	if s.opts.shareUmemFrom != nil {
		other := s.opts.shareUmemFrom
		other.mu.Lock()
		fill, comp := other.fill, other.comp
		other.mu.Unlock()
		if (flags&BindRX != 0 && fill == nil) || (flags&BindTX != 0 && comp == nil) {
			return api.NewError(api.ErrCodeInvalidState, "socket: share-umem target is not bound yet")
		}
		if flags&BindRX != 0 {
			s.fill = fill
		}
		if flags&BindTX != 0 {
			s.comp = comp
		}
	} else {
		if flags&BindRX != 0 {
			fillMem := make([]byte, ring.HeaderSize+uint64(s.opts.fillSize)*8)
			s.fill, err = ring.New(fillMem, s.opts.fillSize, 8)
			if err != nil {
				return err
			}
		}
		if flags&BindTX != 0 {
			compMem := make([]byte, ring.HeaderSize+uint64(s.opts.compSize)*8)
			s.comp, err = ring.New(compMem, s.opts.compSize, 8)
			if err != nil {
				return err
			}
		}
	}

	s.state = StateBound
	go s.watchDetach(detach)
	return nil
}

// watchDetach is spawned once per successful Bind. It surfaces a provider
// detach automatically: rings go into ERROR and the socket transitions to
// DETACHED_INTERFACE without any caller having to notice and relay it by
// hand. It exits without effect if the socket is closed first.
func (s *Socket) watchDetach(detach <-chan struct{}) {
	select {
	case <-detach:
		s.NoteDetached()
	case <-s.closeCh:
	}
}

// Activate publishes the socket's descriptor layout and moves it to
// ACTIVATED. It applies no offload settings. Valid only from BOUND.
func (s *Socket) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBound {
		return invalidState(s.state, "activate")
	}
	s.layout = defaultLayout()
	s.state = StateActivated
	return nil
}

// Rings returns the socket's four rings. Valid only once BOUND or later.
func (s *Socket) Rings() (rx, tx, fill, comp *ring.Ring, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBound && s.state != StateActivated {
		return nil, nil, nil, nil, invalidState(s.state, "rings")
	}
	return s.rx, s.tx, s.fill, s.comp, nil
}

// Umem returns the socket's backing UMEM region.
func (s *Socket) Umem() *umem.Umem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.umemRegion
}

// Layout returns the negotiated descriptor extension layout published at
// activation (spec §9 supplemented feature).
func (s *Socket) Layout() Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout
}

// Stats returns a snapshot of the socket's counters.
func (s *Socket) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// NoteDetached transitions the socket to DETACHED_INTERFACE and marks every
// allocated ring's flags ERROR, so the next notify on any of them surfaces
// INTERFACE_DETACHED. Bind's watchDetach goroutine calls this automatically
// on provider detach; it is also safe to call directly (e.g. from a test).
func (s *Socket) NoteDetached() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActivated || s.state == StateBound {
		s.markRingsError()
		s.state = StateDetachedInterface
	}
}

// NoteInvalidRing transitions the socket to INVALID_RING after a
// consistency check elsewhere (core/ring, core/notify) observes a wire
// layout violation, and marks every allocated ring's flags ERROR.
func (s *Socket) NoteInvalidRing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActivated || s.state == StateBound {
		s.markRingsError()
		s.state = StateInvalidRing
	}
}

// markRingsError sets FlagError on every ring this socket has allocated.
// Callers must hold s.mu.
func (s *Socket) markRingsError() {
	for _, r := range []*ring.Ring{s.rx, s.tx, s.fill, s.comp} {
		if r != nil {
			r.SetFlags(ring.FlagError)
		}
	}
}

// Close deactivates the socket, releases its rings, and drops its UMEM
// reference. Idempotent. It does not revert offload settings; that is a
// separate core/offload Revert call.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	if s.umemRegion != nil {
		_ = s.umemRegion.Close()
	}
	s.rx, s.tx, s.fill, s.comp = nil, nil, nil, nil
	s.state = StateClosed
	close(s.closeCh)
	return nil
}
