package monitor

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

// DefaultProgressSchedule logs progress twice a minute
const DefaultProgressSchedule = "@every 30s"

// ProgressSource reports how far a run has got. It is read from the cron
// goroutine.
type ProgressSource interface {
	Progress() model.Progress
}

// StatsCollector samples host resource usage
type StatsCollector interface {
	Collect(running int, interval time.Duration) model.ExecutorStats
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// ProgressMonitor periodically logs run progress and host load
type ProgressMonitor struct {
	logger    *zap.Logger
	cron      *cron.Cron
	source    ProgressSource
	stats     StatsCollector
	cpuSample time.Duration
}

// NewProgressMonitor creates a monitor firing on schedule, a cron
// expression with seconds or a descriptor such as "@every 30s".
func NewProgressMonitor(schedule string, source ProgressSource, stats StatsCollector, logger *zap.Logger) (*ProgressMonitor, error) {
	logger = logger.Named("progress")
	cl := &cronLogger{logger: logger}
	m := &ProgressMonitor{
		logger: logger,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		source:    source,
		stats:     stats,
		cpuSample: time.Second,
	}

	if schedule == "" {
		schedule = DefaultProgressSchedule
	}
	if _, err := m.cron.AddFunc(schedule, func() { m.Tick() }); err != nil {
		return nil, fmt.Errorf("failed to parse progress schedule %q: %w", schedule, err)
	}
	return m, nil
}

// Start starts the schedule in its own goroutine
func (m *ProgressMonitor) Start() {
	m.cron.Start()
}

// Stop stops the schedule and waits for a running tick to finish
func (m *ProgressMonitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// Tick logs one progress line
func (m *ProgressMonitor) Tick() (model.Progress, model.ExecutorStats) {
	progress := m.source.Progress()
	var stats model.ExecutorStats
	if m.stats != nil {
		stats = m.stats.Collect(progress.Running, m.cpuSample)
	}

	m.logger.Info("Build progress",
		zap.String("done", fmt.Sprintf("%d/%d", progress.Built+progress.Failed, progress.Total)),
		zap.Int("failed", progress.Failed),
		zap.Int("running", progress.Running),
		zap.Float64("cpu_usage", stats.CPUUsage),
		zap.Float64("memory_usage", stats.MemoryUsage))
	return progress, stats
}
