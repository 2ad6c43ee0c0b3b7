package metrics

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"
)

// DiskProbe returns the used share of the filesystem holding path, in percent.
type DiskProbe func(ctx context.Context, path string) (float64, error)

// HeapProbe returns heap bytes in use and heap bytes obtained from the OS.
type HeapProbe func() (used, total uint64)

// Refresher updates the heap and disk gauges of a registry.
type Refresher struct {
	reg      *Registry
	logger   *logrus.Logger
	diskPath string
	disk     DiskProbe
	heap     HeapProbe
}

// NewRefresher creates a refresher that probes the filesystem at diskPath.
func NewRefresher(reg *Registry, logger *logrus.Logger, diskPath string) *Refresher {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Refresher{
		reg:      reg,
		logger:   logger,
		diskPath: diskPath,
		disk:     gopsutilDiskUsage,
		heap:     runtimeHeap,
	}
}

func gopsutilDiskUsage(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("read disk usage of %s: %w", path, err)
	}
	if usage.Total == 0 {
		return 0, fmt.Errorf("filesystem %s reports zero size", path)
	}
	return usage.UsedPercent, nil
}

func runtimeHeap() (uint64, uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc, ms.HeapSys
}

// RefreshHeap sets the heap gauges from the current runtime stats.
func (r *Refresher) RefreshHeap() {
	used, total := r.heap()
	r.reg.MustSetGauge(HeapUsedBytes, nil, float64(used))
	r.reg.MustSetGauge(HeapTotalBytes, nil, float64(total))
}

// RefreshDisk sets the disk usage gauge. A probe failure is logged and the
// gauge keeps its previous value.
func (r *Refresher) RefreshDisk(ctx context.Context) {
	percent, err := r.disk(ctx, r.diskPath)
	if err != nil {
		r.logger.WithError(err).Warn("Error getting disk info")
		return
	}
	r.reg.MustSetGauge(DiskUsagePercent, map[string]string{"filesystem": r.diskPath}, percent)
}

// Refresh runs both refreshes.
func (r *Refresher) Refresh(ctx context.Context) {
	r.RefreshHeap()
	r.RefreshDisk(ctx)
}
