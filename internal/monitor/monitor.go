package monitor

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceStats is the process/system view attached to the service
// health endpoint.
type ResourceStats struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryUsedPct float64   `json:"memory_used_pct"`
	MemoryTotalMB uint64    `json:"memory_total_mb"`
	HeapAllocMB   uint64    `json:"heap_alloc_mb"`
	Goroutines    int       `json:"goroutines"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collect samples current resource usage. Sampling failures leave the
// corresponding fields zeroed rather than failing the health check.
func Collect() ResourceStats {
	stats := ResourceStats{
		Goroutines:  runtime.NumGoroutine(),
		CollectedAt: time.Now(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats.HeapAllocMB = ms.HeapAlloc / 1024 / 1024

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryUsedPct = vm.UsedPercent
		stats.MemoryTotalMB = vm.Total / 1024 / 1024
	}

	return stats
}
