package executor

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

// ResourceManager sizes the pool from the host CPUs and samples host usage
// while builds run.
type ResourceManager struct {
	logger *zap.Logger

	cpuCount func() (int, error)
}

// NewResourceManager creates a new resource manager
func NewResourceManager(logger *zap.Logger) *ResourceManager {
	return &ResourceManager{
		logger:   logger.Named("resource-manager"),
		cpuCount: func() (int, error) { return cpu.Counts(true) },
	}
}

// CPUCount returns the number of logical CPUs
func (rm *ResourceManager) CPUCount() int {
	n, err := rm.cpuCount()
	if err != nil || n < 1 {
		rm.logger.Debug("Falling back to runtime CPU count", zap.Error(err))
		return runtime.NumCPU()
	}
	return n
}

// Executors returns how many slots the pool gets: the configured count when
// positive, otherwise one per CPU, and never more than there are solutions.
func (rm *ResourceManager) Executors(configured, solutions int) int {
	n := configured
	if n <= 0 {
		n = rm.CPUCount()
	}
	if n > solutions {
		n = solutions
	}
	return n
}

// Collect samples host CPU and memory usage. It blocks for interval while
// measuring CPU.
func (rm *ResourceManager) Collect(running int, interval time.Duration) model.ExecutorStats {
	stats := model.ExecutorStats{RunningBuilds: running}

	cpuPercent, err := cpu.Percent(interval, false)
	if err != nil {
		rm.logger.Error("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		stats.CPUUsage = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		rm.logger.Error("Failed to get memory usage", zap.Error(err))
	} else {
		stats.MemoryUsage = memInfo.UsedPercent
	}
	stats.CollectedAt = time.Now()

	rm.logger.Debug("Resource stats collected",
		zap.Float64("cpu_usage", stats.CPUUsage),
		zap.Float64("memory_usage", stats.MemoryUsage),
		zap.Int("running_builds", stats.RunningBuilds))
	return stats
}

// KillAll kills every running process among slots and waits for them to exit
func (rm *ResourceManager) KillAll(slots []*Slot) {
	for _, s := range slots {
		p := s.Process()
		if p == nil || p.Poll() {
			continue
		}
		if err := p.Kill(); err != nil {
			rm.logger.Error("Failed to kill process",
				zap.Int("executor", s.Index),
				zap.Error(err))
		}
	}
	for _, s := range slots {
		if p := s.Process(); p != nil {
			p.Wait()
		}
	}
}
