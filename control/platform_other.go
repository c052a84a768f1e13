//go:build !linux
// +build !linux

// control/platform_other.go
// Author: momentics <momentics@gmail.com>
//
// Non-Linux platforms expose no platform-specific debug probes.

package control

// RegisterPlatformProbes is a no-op off Linux.
func RegisterPlatformProbes(dp *DebugProbes) {}
