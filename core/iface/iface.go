// File: core/iface/iface.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package iface defines the Provider abstraction that decouples core/socket
// from any particular interface/driver backend. A Provider owns queue
// binding, notification (poke), capability negotiation, and detach
// propagation for one network interface, following a platform-selected
// implementation behind one contract, generalized to an interface/queue
// provider.

package iface

// NotifyFlags mirrors the wakeup request a socket asks its provider for
// when it goes to sleep waiting on RX or TX.
type NotifyFlags uint32

const (
	NotifyRX NotifyFlags = 1 << iota
	NotifyTX
)

// Capabilities describes what a bound interface queue supports. core/socket
// reads ChecksumTx from it to report checksum-offload capability, and the
// facade's RSS-capabilities command reports ZeroCopy from it.
type Capabilities struct {
	ZeroCopy     bool
	ChecksumTx   bool
	MaxQueueSize uint32
}

// Provider is whatever actually owns the NIC queue, whether that's a real
// XDP-capable driver, an AF_PACKET loopback used for testing, or a paired
// in-process queue.
type Provider interface {
	// Open prepares ifIndex for queue binding. Calling Open twice for the
	// same ifIndex without a Close in between is a no-op.
	Open(ifIndex int) error

	// BindQueue attaches to a specific queue on an already-Open interface
	// and returns a channel that closes when the interface detaches (link
	// removed, driver unload, provider shutdown).
	BindQueue(ifIndex, queueID int) (detach <-chan struct{}, err error)

	// NotifyQueue issues a wakeup (poke) for the given queue so the peer
	// (kernel or loopback goroutine) re-examines its rings.
	NotifyQueue(ifIndex, queueID int, flags NotifyFlags) error

	// QueueCount reports how many queues ifIndex exposes, so callers (e.g.
	// "program create ALL_QUEUES") can validate against the real topology
	// instead of trusting a caller-supplied count.
	QueueCount(ifIndex int) (int, error)

	// Capabilities reports what the bound queue supports.
	Capabilities(ifIndex, queueID int) (Capabilities, error)

	// Close tears down every queue binding this provider made and closes
	// every interface it opened.
	Close() error
}
