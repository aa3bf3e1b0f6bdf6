package main

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/process"
)

func processStats() map[string]any {
	stats := map[string]any{
		"goroutines": runtime.NumGoroutine(),
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	if cpu, err := p.CPUPercent(); err == nil {
		stats["cpu_percent"] = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil {
		stats["rss_bytes"] = mem.RSS
	}
	if threads, err := p.NumThreads(); err == nil {
		stats["threads"] = threads
	}
	return stats
}
