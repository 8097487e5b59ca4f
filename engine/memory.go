package engine

import (
	"github.com/shirou/gopsutil/v4/process"
)

// processRSS returns the resident set size of pid in bytes, or 0 when the
// process cannot be inspected.
func processRSS(pid int) uint64 {
	if pid <= 0 {
		return 0
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return 0
	}
	return mem.RSS
}

// engineRSS sums the resident memory of every cached lc0 process.
func (c *Cache) engineRSS(rss func(pid int) uint64) uint64 {
	c.mu.Lock()
	pids := make([]int, 0, len(c.entries))
	for _, h := range c.entries {
		if nh, ok := h.(*NativeHandle); ok {
			pids = append(pids, nh.Pid())
		}
	}
	c.mu.Unlock()

	var total uint64
	for _, pid := range pids {
		total += rss(pid)
	}
	return total
}
