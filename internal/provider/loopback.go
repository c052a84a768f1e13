// File: internal/provider/loopback.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package provider ships a reference iface.Provider so the module runs and
// tests without real XDP-capable hardware or root: non-blocking socket
// setup and a Features()-style capability struct, generalized from a
// single TCP connection to a registry of interface queues paired with an
// in-process peer, the way a loopback/AF_PACKET provider would behave.

package provider

import (
	"sync"

	"github.com/xdpfabric/afxdp/api"
	"github.com/xdpfabric/afxdp/core/iface"
)

type queueKey struct {
	ifIndex, queueID int
}

// Loopback is an iface.Provider that tracks opened interfaces and bound
// queues in memory, without any real NIC involved. Queues are not paired:
// NotifyQueue only checks that the queue is bound.
type Loopback struct {
	mu      sync.Mutex
	opened  map[int]bool
	queues  map[queueKey]chan struct{} // per-queue detach channel
	queueN  map[int]int                // ifIndex -> queue count
	caps    iface.Capabilities
	closed  bool
}

// NewLoopback returns a Loopback provider where every bound queue reports
// caps. queueCount is not stored: QueueCount reports one past the highest
// bound queue ID of an interface, or 1 when none is bound.
func NewLoopback(queueCount int, caps iface.Capabilities) *Loopback {
	if queueCount <= 0 {
		queueCount = 1
	}
	return &Loopback{
		opened: make(map[int]bool),
		queues: make(map[queueKey]chan struct{}),
		queueN: make(map[int]int),
		caps:   caps,
	}
}

func (l *Loopback) Open(ifIndex int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return api.NewError(api.ErrCodeInvalidState, "provider: closed")
	}
	l.opened[ifIndex] = true
	return nil
}

func (l *Loopback) BindQueue(ifIndex, queueID int) (<-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.opened[ifIndex] {
		return nil, api.NewError(api.ErrCodeInvalidState, "provider: interface not open")
	}
	k := queueKey{ifIndex, queueID}
	if _, exists := l.queues[k]; exists {
		return nil, api.NewError(api.ErrCodeAlreadyExists, "provider: queue already bound")
	}
	detach := make(chan struct{})
	l.queues[k] = detach
	if queueID+1 > l.queueN[ifIndex] {
		l.queueN[ifIndex] = queueID + 1
	}
	return detach, nil
}

func (l *Loopback) NotifyQueue(ifIndex, queueID int, flags iface.NotifyFlags) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := queueKey{ifIndex, queueID}
	if _, ok := l.queues[k]; !ok {
		return api.NewError(api.ErrCodeNotFound, "provider: queue not bound")
	}
	// The loopback provider has no separate kernel side to wake: rings are
	// shared memory the consumer already polls. Notify exists here purely
	// to exercise the same call path a real provider would take.
	return nil
}

func (l *Loopback) QueueCount(ifIndex int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.opened[ifIndex] {
		return 0, api.NewError(api.ErrCodeNotFound, "provider: interface not open")
	}
	if n, ok := l.queueN[ifIndex]; ok && n > 0 {
		return n, nil
	}
	return 1, nil
}

func (l *Loopback) Capabilities(ifIndex, queueID int) (iface.Capabilities, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := queueKey{ifIndex, queueID}
	if _, ok := l.queues[k]; !ok {
		return iface.Capabilities{}, api.NewError(api.ErrCodeNotFound, "provider: queue not bound")
	}
	return l.caps, nil
}

// Detach closes the detach channel for a bound queue, simulating the
// interface going away out from under a socket. Tests use this to exercise
// the DETACHED_INTERFACE transition.
func (l *Loopback) Detach(ifIndex, queueID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := queueKey{ifIndex, queueID}
	if ch, ok := l.queues[k]; ok {
		close(ch)
		delete(l.queues, k)
	}
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	for k, ch := range l.queues {
		close(ch)
		delete(l.queues, k)
	}
	l.closed = true
	return nil
}
