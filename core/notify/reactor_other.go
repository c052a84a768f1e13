//go:build !linux

// File: core/notify/reactor_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package notify

import (
	"github.com/xdpfabric/afxdp/api"
)

// EpollReactor is unavailable outside Linux: NewEpollReactor always fails.
// Notify waits never go through a reactor on any platform (see Engine.waitAny).
type EpollReactor struct{}

func NewEpollReactor() (*EpollReactor, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "notify: epoll reactor requires linux")
}

func (r *EpollReactor) Register(fd uintptr, userData uintptr) error { return nil }
func (r *EpollReactor) Wait(events []api.Event) (int, error)        { return 0, nil }
func (r *EpollReactor) Close() error                                { return nil }

var _ api.Reactor = (*EpollReactor)(nil)
