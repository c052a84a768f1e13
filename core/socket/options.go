// File: core/socket/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import "github.com/xdpfabric/afxdp/api"

// PollMode selects how core/notify waits on this socket's rings.
type PollMode int

const (
	// PollDefault lets the notify engine pick POKE-then-WAIT with a normal
	// blocking wait.
	PollDefault PollMode = iota
	// PollBusy spins, rate-limited, instead of blocking in the kernel.
	PollBusy
	// PollSocket is stored and reported back; the notify engine waits for it
	// exactly as for PollDefault.
	PollSocket
)

type options struct {
	rxSize, txSize, fillSize, compSize uint32
	pollMode                           PollMode
	shareUmemFrom                      *Socket
	rxHookID, txHookID                 uint32
	checksumTxRequested                bool
}

func defaultOptions() options {
	return options{
		rxSize:   ringSizeDefault,
		txSize:   ringSizeDefault,
		fillSize: ringSizeDefault,
		compSize: ringSizeDefault,
		pollMode: PollDefault,
	}
}

// Option mutates a socket's pending configuration. Errors returned here
// surface from Configure with ErrCodeInvalidArgument.
type Option func(*options) error

// WithRxRingSize overrides the RX ring's element count (must be a power of two).
func WithRxRingSize(n uint32) Option {
	return func(o *options) error {
		if n == 0 || n&(n-1) != 0 {
			return api.NewError(api.ErrCodeInvalidArgument, "socket: rx ring size must be a power of two")
		}
		o.rxSize = n
		return nil
	}
}

// WithTxRingSize overrides the TX ring's element count.
func WithTxRingSize(n uint32) Option {
	return func(o *options) error {
		if n == 0 || n&(n-1) != 0 {
			return api.NewError(api.ErrCodeInvalidArgument, "socket: tx ring size must be a power of two")
		}
		o.txSize = n
		return nil
	}
}

// WithFillRingSize overrides the fill ring's element count. Ignored when
// WithShareUmem names a socket that already owns a fill ring.
func WithFillRingSize(n uint32) Option {
	return func(o *options) error {
		if n == 0 || n&(n-1) != 0 {
			return api.NewError(api.ErrCodeInvalidArgument, "socket: fill ring size must be a power of two")
		}
		o.fillSize = n
		return nil
	}
}

// WithCompRingSize overrides the completion ring's element count.
func WithCompRingSize(n uint32) Option {
	return func(o *options) error {
		if n == 0 || n&(n-1) != 0 {
			return api.NewError(api.ErrCodeInvalidArgument, "socket: comp ring size must be a power of two")
		}
		o.compSize = n
		return nil
	}
}

// WithPollMode selects the socket's notify poll mode.
func WithPollMode(m PollMode) Option {
	return func(o *options) error {
		o.pollMode = m
		return nil
	}
}

// WithShareUmem marks this socket as sharing other's fill/completion rings
// instead of allocating its own. Per the resolved Open Question, this must
// be set before Bind; core/socket enforces that by only accepting Option
// values through Configure, which itself only runs pre-bind, and by
// re-checking at Bind time that other is already bound.
func WithShareUmem(other *Socket) Option {
	return func(o *options) error {
		if other == nil {
			return api.NewError(api.ErrCodeInvalidArgument, "socket: share-umem target is nil")
		}
		o.shareUmemFrom = other
		return nil
	}
}

// WithRxHookID records the hook identifier the RX path is attached to,
// queryable back through the RX_HOOK_ID sockopt.
func WithRxHookID(id uint32) Option {
	return func(o *options) error {
		o.rxHookID = id
		return nil
	}
}

// WithTxHookID is WithRxHookID's TX counterpart (TX_HOOK_ID).
func WithTxHookID(id uint32) Option {
	return func(o *options) error {
		o.txHookID = id
		return nil
	}
}

// WithOffloadChecksumTx requests UDP transmit checksum offload
// (OFFLOAD_UDP_CHECKSUM_TX); whether it actually takes effect is bounded by
// the provider's reported ChecksumCapabilities.
func WithOffloadChecksumTx(requested bool) Option {
	return func(o *options) error {
		o.checksumTxRequested = requested
		return nil
	}
}

// PollMode returns the socket's configured poll mode, read by core/notify.
func (s *Socket) PollMode() PollMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.pollMode
}

// HookIDs returns the configured RX and TX hook identifiers.
func (s *Socket) HookIDs() (rx, tx uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.rxHookID, s.opts.txHookID
}

// ChecksumTxRequested reports whether OFFLOAD_UDP_CHECKSUM_TX was requested
// via Configure.
func (s *Socket) ChecksumTxRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.checksumTxRequested
}
