// File: core/concurrency/numa.go
// Author: momentics <momentics@gmail.com>
//
// NUMA helpers shared by the executor and the pool package.

package concurrency

import (
	"runtime"

	"github.com/xdpfabric/afxdp/affinity"
)

// NUMANodes reports the number of NUMA nodes visible to this process.
func NUMANodes() int {
	return affinity.NUMANodes()
}

// PinCurrentThread pins the calling OS thread to a CPU associated with
// numaNode. workerID selects a core within the node in round-robin
// fashion when the node has more than one core. Returns
// ErrAffinityNotSupported when pinning isn't available on this platform.
func PinCurrentThread(numaNode, workerID int) error {
	if numaNode < 0 {
		return nil
	}
	cpusPerNode := 1
	if n := NUMANodes(); n > 0 {
		cpusPerNode = maxInt(1, runtime.NumCPU()/n)
	}
	cpu := numaNode*cpusPerNode + (workerID % cpusPerNode)
	if err := affinity.SetAffinity(cpu); err != nil {
		return ErrAffinityNotSupported
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
