// File: pool/doc.go
// Package pool
// Author: momentics <momentics@gmail.com>
//
// High-performance, NUMA-aware buffer pooling, batching, and ring buffer
// layer backing UMEM chunk scratch allocation and TX-reflect buffers.
// All core methods are thread-safe or explicitly document the concurrency contract.
package pool
