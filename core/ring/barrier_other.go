//go:build !linux || !cgo

// File: core/ring/barrier_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ring

func sfence() {}
