//go:build linux && cgo

// File: core/ring/barrier_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ring

/*
#include <stdint.h>

static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}
*/
import "C"

// sfence issues a store fence so the element writes a producer just made
// are globally visible before the subsequent producer-index store that
// publishes them. atomic.AddUint32 already carries the ordering Go's memory
// model requires between goroutines; this is for parity with a kernel peer
// that reads the same memory without going through the Go runtime.
func sfence() {
	C.sfence_impl()
}
