// File: affinity/numa.go
// Author: momentics <momentics@gmail.com>
//
// NUMA topology discovery used by the pool and concurrency packages to size
// per-node structures. Falls back to a single node when the topology cannot
// be read (containers, non-NUMA hardware, unsupported platforms).

package affinity

import (
	"os"
	"path/filepath"
	"strings"
)

// NUMANodes returns the number of NUMA nodes visible to this process.
// Never returns less than 1.
func NUMANodes() int {
	entries, err := os.ReadDir("/sys/devices/system/node")
	if err != nil {
		return 1
	}
	count := 0
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, "node") {
			continue
		}
		if matched, err := filepath.Match("node[0-9]*", name); err == nil && matched {
			count++
		}
	}
	if count == 0 {
		return 1
	}
	return count
}
