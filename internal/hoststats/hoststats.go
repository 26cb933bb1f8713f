// Package hoststats collects host resource utilization for ping reporting.
// It implements the collection agent/internal/metrics/metrics.go left as a
// TODO against an already-declared gopsutil dependency.
package hoststats

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time host resource reading, percentages 0-100.
type Snapshot struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// DiskPath is the filesystem path disk usage is sampled from.
const DiskPath = "/"

// Collect samples current CPU, memory, and disk utilization.
func Collect(ctx context.Context) (Snapshot, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("hoststats: cpu: %w", err)
	}
	var cpuPct float64
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("hoststats: mem: %w", err)
	}

	du, err := disk.UsageWithContext(ctx, DiskPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("hoststats: disk: %w", err)
	}

	return Snapshot{
		CPUPercent:  cpuPct,
		MemPercent:  vm.UsedPercent,
		DiskPercent: du.UsedPercent,
	}, nil
}
