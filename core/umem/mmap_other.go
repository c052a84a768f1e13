//go:build !linux

// File: core/umem/mmap_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// AF_XDP UMEM is a Linux kernel-bypass facility; off Linux there is no
// anonymous mmap-backed region to register.

package umem

import "github.com/xdpfabric/afxdp/api"

// RegisterMapped always fails off Linux. Callers needing a UMEM region on
// other platforms must allocate their own backing slice and call Register.
func (r *Registry) RegisterMapped(size uint64, chunkSize, headroom uint32) (*Umem, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "umem: mmap-backed UMEM requires Linux")
}
