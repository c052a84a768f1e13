// File: core/notify/notify.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package notify implements the POKE-then-WAIT ordering and the
// lost-wakeup-free NEED_POKE protocol: a consumer that finds a ring empty
// sets FlagNeedPoke, re-checks the ring (closing the race against a
// producer that published between the first check and the flag set), and
// only then blocks. WAIT polls the rings on a short ticker (PollBusy: a
// rate-limited spin); the api.Reactor an Engine is built with is only
// released by Close. Pending async requests are kept in an eapache/queue.
//
// Flags are an independently composable bitmask (POKE_RX/POKE_TX/WAIT_RX/
// WAIT_TX), not a single ring-direction choice: POKE_TX with no wait bit
// set is the TX-kick pattern, used to prod the peer into draining the TX
// ring without blocking for a completion.

package notify

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/time/rate"

	"github.com/xdpfabric/afxdp/api"
	"github.com/xdpfabric/afxdp/core/iface"
	"github.com/xdpfabric/afxdp/core/ring"
	"github.com/xdpfabric/afxdp/core/socket"
)

// Flags selects which of RX/TX to poke and/or wait on in one Notify call.
type Flags uint32

const (
	PokeRX Flags = 1 << iota
	PokeTX
	WaitRX
	WaitTX
)

// Result is the set of conditions Notify observed satisfied when it
// returned, restricted to whichever directions Flags actually requested.
type Result uint32

const (
	ResultRXAvailable     Result = 1 << iota
	ResultTXCompAvailable
)

// PollInfo reports the notify engine's current poll mode and how many
// times NEED_POKE was actually observed set, for debug dumps
// (original_source/xdp/pollinfo.h, a dropped-from-spec.md surface kept
// because it is cheap and useful).
type PollInfo struct {
	Mode           socket.PollMode
	NeedPokeEvents uint64
}

// Engine drives waits for one or more sockets. A single Engine may be
// shared across every socket a facade.Service owns.
type Engine struct {
	reactor api.Reactor
	limiter *rate.Limiter

	mu             sync.Mutex
	needPokeEvents uint64
	pending        *queue.Queue // of *Async; removePending drops each one as it finishes
}

// NewEngine builds a notify engine holding reactor (released by Close; no
// wait goes through it) and a busy-poll rate limiter bounding PollBusy spins.
func NewEngine(reactor api.Reactor, busyPollHz float64) *Engine {
	return &Engine{
		reactor: reactor,
		limiter: rate.NewLimiter(rate.Limit(busyPollHz), 1),
		pending: queue.New(),
	}
}

// Notify implements notify(socket, flags, timeout): POKE first for every
// direction flags names; if any poke fails, the call returns that failure
// immediately and WAIT is never attempted. If poke (or the absence of any
// POKE bit) succeeds and a WAIT bit was requested, it blocks up to timeout
// for at least one requested condition, then returns whichever conditions
// actually held when it returned. A timeout of zero or less sets no time
// bound: the wait lasts until a condition holds or ctx is done; there is no
// poll-once mode.
func (e *Engine) Notify(ctx context.Context, sock *socket.Socket, p iface.Provider, ifIndex, queueID int, flags Flags, timeout time.Duration) (Result, error) {
	rx, _, _, comp, err := sock.Rings()
	if err != nil {
		return 0, err
	}

	if flags&PokeRX != 0 {
		if rx == nil {
			return 0, api.NewError(api.ErrCodeNotSupported, "notify: socket has no RX ring to poke")
		}
		if err := e.poke(rx, p, ifIndex, queueID, iface.NotifyRX); err != nil {
			return 0, err
		}
	}
	if flags&PokeTX != 0 {
		if comp == nil {
			return 0, api.NewError(api.ErrCodeNotSupported, "notify: socket has no completion ring to poke")
		}
		if err := e.poke(comp, p, ifIndex, queueID, iface.NotifyTX); err != nil {
			return 0, err
		}
	}

	var waitRings []*ring.Ring
	if flags&WaitRX != 0 {
		if rx == nil {
			return 0, api.NewError(api.ErrCodeNotSupported, "notify: socket has no RX ring to wait on")
		}
		waitRings = append(waitRings, rx)
	}
	if flags&WaitTX != 0 {
		if comp == nil {
			return 0, api.NewError(api.ErrCodeNotSupported, "notify: socket has no completion ring to wait on")
		}
		waitRings = append(waitRings, comp)
	}

	if len(waitRings) > 0 {
		var waitErr error
		if sock.PollMode() == socket.PollBusy {
			waitErr = e.waitAnyBusy(ctx, waitRings, timeout)
		} else {
			waitErr = e.waitAny(ctx, waitRings, timeout)
		}
		if waitErr != nil {
			return e.observedResult(flags, rx, comp), waitErr
		}
	}

	return e.observedResult(flags, rx, comp), nil
}

// poke implements the NEED_POKE protocol for a single ring/direction: set
// the flag, re-check for a race against a producer that published between
// the first and second checks, and only then issue the provider wakeup.
func (e *Engine) poke(r *ring.Ring, p iface.Provider, ifIndex, queueID int, dir iface.NotifyFlags) error {
	if r.Pending() > 0 {
		return nil
	}
	r.SetFlags(ring.FlagNeedPoke)
	e.mu.Lock()
	e.needPokeEvents++
	e.mu.Unlock()

	if r.Pending() > 0 {
		r.ClearFlags(ring.FlagNeedPoke)
		return nil
	}

	if err := p.NotifyQueue(ifIndex, queueID, dir); err != nil {
		r.ClearFlags(ring.FlagNeedPoke)
		return err
	}
	return nil
}

// waitAny blocks until any ring in rings has pending entries, or ctx/timeout
// expires, using a short polling loop. A real kernel AF_XDP socket would
// instead block in poll(2)/recvmsg on the socket fd; the loopback provider
// has no such fd, so the notify engine falls back to a lightweight
// condition wait that still honors cancellation and the configured timeout.
func (e *Engine) waitAny(ctx context.Context, rings []*ring.Ring, timeout time.Duration) error {
	defer clearNeedPoke(rings)
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}
	ticker := time.NewTicker(50 * time.Microsecond)
	defer ticker.Stop()
	for {
		if anyPending(rings) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCh:
			return api.NewError(api.ErrCodeTimeout, "notify: wait timed out")
		case <-ticker.C:
		}
	}
}

// waitAnyBusy spins on rings, yielding to the scheduler at a bounded rate
// instead of consuming a full core unconditionally.
func (e *Engine) waitAnyBusy(ctx context.Context, rings []*ring.Ring, timeout time.Duration) error {
	defer clearNeedPoke(rings)
	deadline := time.Now().Add(timeout)
	for !anyPending(rings) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if timeout > 0 && time.Now().After(deadline) {
			return api.NewError(api.ErrCodeTimeout, "notify: busy poll timed out")
		}
		_ = e.limiter.Wait(ctx)
	}
	return nil
}

func anyPending(rings []*ring.Ring) bool {
	for _, r := range rings {
		if r.Pending() > 0 {
			return true
		}
	}
	return false
}

func clearNeedPoke(rings []*ring.Ring) {
	for _, r := range rings {
		r.ClearFlags(ring.FlagNeedPoke)
	}
}

func (e *Engine) observedResult(flags Flags, rx, comp *ring.Ring) Result {
	var res Result
	if flags&(PokeRX|WaitRX) != 0 && rx != nil && rx.Pending() > 0 {
		res |= ResultRXAvailable
	}
	if flags&(PokeTX|WaitTX) != 0 && comp != nil && comp.Pending() > 0 {
		res |= ResultTXCompAvailable
	}
	return res
}

// PollInfo returns a snapshot of poll diagnostics.
func (e *Engine) PollInfo(sock *socket.Socket) PollInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return PollInfo{Mode: sock.PollMode(), NeedPokeEvents: e.needPokeEvents}
}

// Close releases the engine's reactor.
func (e *Engine) Close() error {
	if e.reactor != nil {
		return e.reactor.Close()
	}
	return nil
}
