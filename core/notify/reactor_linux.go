//go:build linux

// File: core/notify/reactor_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EpollReactor implements api.Reactor over an epoll fd. The notify Engine
// holds one and closes it; its waits do not go through it.

package notify

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/xdpfabric/afxdp/api"
)

// EpollReactor is a thin epoll wrapper satisfying api.Reactor.
type EpollReactor struct {
	epfd      int
	userData  sync.Map // map[int32]uintptr, fd -> caller-supplied tag
}

// NewEpollReactor opens a fresh epoll instance.
func NewEpollReactor() (*EpollReactor, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("notify: epoll_create1: %w", err)
	}
	return &EpollReactor{epfd: fd}, nil
}

// Register arms fd for readability, tagging it with userData so Wait can
// hand the caller back their own association without the caller needing to
// track fd-to-context mappings itself.
func (r *EpollReactor) Register(fd uintptr, userData uintptr) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("notify: epoll_ctl add: %w", err)
	}
	r.userData.Store(int32(fd), userData)
	return nil
}

// Wait blocks until at least one registered fd is ready or the reactor is
// closed, filling events and returning how many were written.
func (r *EpollReactor) Wait(events []api.Event) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	n, err := unix.EpollWait(r.epfd, raw, -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("notify: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		var tag uintptr
		if v, ok := r.userData.Load(raw[i].Fd); ok {
			tag, _ = v.(uintptr)
		}
		events[i] = api.Event{
			Fd:       uintptr(raw[i].Fd),
			UserData: tag,
		}
	}
	return n, nil
}

// Close releases the epoll fd.
func (r *EpollReactor) Close() error {
	return unix.Close(r.epfd)
}

var _ api.Reactor = (*EpollReactor)(nil)
