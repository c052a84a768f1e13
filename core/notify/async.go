// File: core/notify/async.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package notify

import (
	"context"
	"sync"
	"time"

	"github.com/xdpfabric/afxdp/api"
	"github.com/xdpfabric/afxdp/core/iface"
	"github.com/xdpfabric/afxdp/core/socket"
)

// Async is a cancelable handle to an in-flight asynchronous notify request.
// It satisfies api.Cancelable so callers already holding that contract
// (e.g. a scheduler driving many pending operations) can treat it
// uniformly with other async work.
type Async struct {
	done   chan struct{}
	cancel context.CancelFunc
	mu     sync.Mutex
	err    error
	result Result
}

// Result returns the conditions Notify observed satisfied, valid after
// Done closes.
func (a *Async) Result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// Cancel aborts the wait if it hasn't completed yet.
func (a *Async) Cancel() error {
	a.cancel()
	return nil
}

// Done returns a channel closed when the wait completes or is canceled.
func (a *Async) Done() <-chan struct{} { return a.done }

// Err returns the completion or cancellation reason, valid after Done closes.
func (a *Async) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// NotifyAsync starts a Notify call in a background goroutine and returns
// immediately with a handle the caller can cancel or wait on via Done.
// Each call enqueues bookkeeping onto the engine's pending queue so
// PendingCount reflects outstanding async work.
func (e *Engine) NotifyAsync(ctx context.Context, sock *socket.Socket, p iface.Provider, ifIndex, queueID int, flags Flags, timeout time.Duration) *Async {
	cctx, cancel := context.WithCancel(ctx)
	a := &Async{done: make(chan struct{}), cancel: cancel}

	e.mu.Lock()
	e.pending.Add(a)
	e.mu.Unlock()

	go func() {
		res, err := e.Notify(cctx, sock, p, ifIndex, queueID, flags, timeout)
		a.mu.Lock()
		a.err = err
		a.result = res
		a.mu.Unlock()
		close(a.done)

		e.mu.Lock()
		e.removePending(a)
		e.mu.Unlock()
	}()

	return a
}

// removePending drops a completed or canceled request from the pending
// queue. Called with e.mu held. The eapache/queue type has no direct
// removal primitive, so this rebuilds the queue without the target entry.
func (e *Engine) removePending(target *Async) {
	n := e.pending.Length()
	for i := 0; i < n; i++ {
		v := e.pending.Remove()
		if v != target {
			e.pending.Add(v)
		}
	}
}

// PendingCount reports how many async notify requests are currently in flight.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending.Length()
}

var _ api.Cancelable = (*Async)(nil)
