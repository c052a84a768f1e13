// File: core/ring/unsafe.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ring

import "unsafe"

// headerPointer returns a pointer to the first byte of mem, reinterpreted
// as the ring's control header. mem must outlive the Ring built from it;
// callers own keeping the backing mmap or slice alive.
func headerPointer(mem []byte) unsafe.Pointer {
	return unsafe.Pointer(&mem[0])
}
