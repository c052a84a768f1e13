//go:build linux

// File: core/umem/mmap_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package umem

import (
	"golang.org/x/sys/unix"

	"github.com/xdpfabric/afxdp/api"
)

// RegisterMapped mmaps a fresh anonymous region of the requested size and
// registers it as a new UMEM, so callers that don't already own backing
// memory (the CLI, tests without a real interface) don't have to manage
// mmap/munmap themselves.
func (r *Registry) RegisterMapped(size uint64, chunkSize, headroom uint32) (*Umem, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, api.NewError(api.ErrCodeResource, "umem: mmap failed").WithContext("errno", err.Error())
	}
	u, err := newUmem(mem, chunkSize, headroom)
	if err != nil {
		_ = unix.Munmap(mem)
		return nil, err
	}
	u.munmap = unix.Munmap
	r.regions = append(r.regions, u)
	return u, nil
}
