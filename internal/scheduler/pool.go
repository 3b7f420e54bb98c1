// Package scheduler runs a solution set through a fixed pool of executor
// slots. One goroutine owns all pool state; the builds themselves run as
// separate processes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/build"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/executor"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/workspace"
)

// Config defines how a pool runs
type Config struct {
	RunID           string
	ProjectDir      string
	Executors       int
	Jobs            int // Jobs per pooled build
	PrimingJobs     int // Jobs for the cache priming build
	PollInterval    time.Duration
	DrainTimeout    time.Duration
	ContinueOnError bool
	CacheDirs       []string
}

type counters struct {
	total   atomic.Int64
	started atomic.Int64
	built   atomic.Int64
	failed  atomic.Int64
	running atomic.Int64
}

// Pool schedules builds over executor slots
type Pool struct {
	logger      *zap.Logger
	config      Config
	fs          afero.Fs
	provisioner Provisioner
	launcher    Launcher
	reporter    Reporter
	resources   *executor.ResourceManager
	listeners   []Listener
	out         io.Writer

	slots        []*executor.Slot
	results      []*model.BuildResult
	firstFailure *model.BuildResult
	progress     counters
}

// NewPool creates a new pool
func NewPool(config Config, fs afero.Fs, provisioner Provisioner, launcher Launcher, reporter Reporter, resources *executor.ResourceManager, logger *zap.Logger) *Pool {
	if config.RunID == "" {
		config.RunID = uuid.New().String()
	}
	if config.Jobs < 1 {
		config.Jobs = DefaultJobs
	}
	if config.PrimingJobs < 1 {
		config.PrimingJobs = resources.CPUCount()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if config.CacheDirs == nil {
		config.CacheDirs = workspace.CacheDirs
	}

	return &Pool{
		logger:      logger.Named("pool"),
		config:      config,
		fs:          fs,
		provisioner: provisioner,
		launcher:    launcher,
		reporter:    reporter,
		resources:   resources,
		out:         os.Stdout,
	}
}

// AddListener registers a listener for build lifecycle changes
func (p *Pool) AddListener(l Listener) {
	p.listeners = append(p.listeners, l)
}

// SetOutput sets where progress lines are printed
func (p *Pool) SetOutput(w io.Writer) {
	p.out = w
}

// RunID returns the id shared by every build of the run
func (p *Pool) RunID() string {
	return p.config.RunID
}

// Progress returns a snapshot of the run counters. It is safe to call from
// any goroutine.
func (p *Pool) Progress() model.Progress {
	return model.Progress{
		Total:   int(p.progress.total.Load()),
		Started: int(p.progress.started.Load()),
		Built:   int(p.progress.built.Load()),
		Failed:  int(p.progress.failed.Load()),
		Running: int(p.progress.running.Load()),
	}
}

// Run builds every solution. The first solution primes the build caches on
// slot 0 before the rest are spread over all slots. Workspaces are removed
// on every return path.
func (p *Pool) Run(ctx context.Context, solutions []model.Solution, sources []string) (err error) {
	if len(solutions) == 0 {
		p.logger.Warn("No solutions to build")
		return nil
	}
	p.progress.total.Store(int64(len(solutions)))

	n := p.config.Executors
	if n < 1 {
		n = 1
	}
	if n > len(solutions) {
		n = len(solutions)
	}

	workspaces, err := p.provisioner.Create(n, sources)
	if err != nil {
		return fmt.Errorf("failed to provision workspaces: %w", err)
	}
	if len(workspaces) != n {
		return multierr.Append(ErrNoWorkspaces, workspace.CloseAll(workspaces))
	}

	p.slots = make([]*executor.Slot, n)
	p.results = make([]*model.BuildResult, n)
	for i, ws := range workspaces {
		p.slots[i] = executor.NewSlot(i, ws, p.logger)
	}
	defer func() {
		err = multierr.Append(err, p.teardown(workspaces))
	}()

	p.logger.Info("Starting build run",
		zap.String("run_id", p.config.RunID),
		zap.Int("solutions", len(solutions)),
		zap.Int("executors", n))

	if err := p.prime(ctx, solutions[0]); err != nil {
		return err
	}

	if n > 1 {
		if err := p.provisioner.CopyCaches(workspaces[0], workspaces[1:], p.config.CacheDirs); err != nil {
			return fmt.Errorf("failed to propagate build caches: %w", err)
		}
	}

	return p.schedule(ctx, solutions[1:])
}

// prime builds one solution alone on slot 0 with its output on the terminal
func (p *Pool) prime(ctx context.Context, solution model.Solution) error {
	fmt.Fprintln(p.out, "First run to fill cache")
	if err := p.start(ctx, p.slots[0], solution, p.config.PrimingJobs, true); err != nil {
		return err
	}
	if err := p.waitFinished(ctx); err != nil {
		return err
	}
	p.collect(ctx)

	if p.firstFailure != nil {
		return &BuildError{
			Code:     p.firstFailure.ExitCode,
			Board:    p.firstFailure.Board,
			Priming:  true,
			Failures: 1,
		}
	}
	return nil
}

func (p *Pool) schedule(ctx context.Context, queue []model.Solution) error {
	stopping := false
	for {
		if ctx.Err() != nil {
			return ErrInterrupted
		}

		for !stopping && len(queue) > 0 {
			slot := p.idleSlot()
			if slot == nil {
				break
			}
			if err := p.start(ctx, slot, queue[0], p.config.Jobs, false); err != nil {
				return err
			}
			queue = queue[1:]
		}

		if !p.busy() {
			break
		}
		if err := p.waitFinished(ctx); err != nil {
			return err
		}
		p.collect(ctx)

		if p.firstFailure != nil && !p.config.ContinueOnError && !stopping {
			stopping = true
			p.logger.Warn("Build failed, waiting for running builds to finish",
				zap.Int("skipped", len(queue)))
		}
	}

	if p.firstFailure != nil {
		return &BuildError{
			Code:     p.firstFailure.ExitCode,
			Board:    p.firstFailure.Board,
			Failures: int(p.progress.failed.Load()),
		}
	}
	return nil
}

func (p *Pool) start(ctx context.Context, slot *executor.Slot, solution model.Solution, jobs int, priming bool) error {
	req := build.Request{
		Dir:    slot.Workspace.Dir,
		Board:  solution.Board(),
		Flags:  solution.Flags(),
		Jobs:   jobs,
		Attach: priming,
	}
	proc, err := p.launcher.Launch(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to launch build on executor %d: %w", slot.Index, err)
	}
	if err := slot.Assign(solution, proc); err != nil {
		proc.Kill()
		proc.Wait()
		proc.Close()
		return fmt.Errorf("failed to assign build to executor %d: %w", slot.Index, err)
	}

	result := &model.BuildResult{
		ID:        uuid.New().String(),
		RunID:     p.config.RunID,
		Executor:  slot.Index,
		Board:     req.Board,
		Solution:  solution,
		Status:    model.BuildStatusRunning,
		Priming:   priming,
		StartedAt: slot.StartedAt(),
	}
	p.results[slot.Index] = result

	started := p.progress.started.Add(1)
	p.progress.running.Add(1)
	fmt.Fprintf(p.out, "[%d/%d] Building %s on executor %d\n", started, p.progress.total.Load(), req.Board, slot.Index)

	for _, l := range p.listeners {
		l.BuildStarted(ctx, result)
	}
	return nil
}

// waitFinished blocks until at least one slot has finished. Every sweep
// drains the output of running builds so none stalls on a full pipe.
func (p *Pool) waitFinished(ctx context.Context) error {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		if p.anyFinished() {
			return nil
		}
		for _, slot := range p.slots {
			if slot.Poll() == model.ExecutorStateRunning {
				slot.Drain(p.config.DrainTimeout)
			}
		}
		if p.anyFinished() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrInterrupted
		case <-ticker.C:
		}
	}
}

// collect handles every finished slot in executor index order
func (p *Pool) collect(ctx context.Context) {
	for _, slot := range p.slots {
		if slot.Poll() == model.ExecutorStateFinished {
			p.collectSlot(ctx, slot)
		}
	}
}

// collectSlot records the exit of a finished slot, reports a failure and
// releases the slot
func (p *Pool) collectSlot(ctx context.Context, slot *executor.Slot) {
	result := p.results[slot.Index]
	code, err := slot.Process().ExitCode()
	if err != nil {
		p.logger.Error("Failed to get exit code", zap.Int("executor", slot.Index), zap.Error(err))
		code = -1
	}
	result.ExitCode = code
	result.CompletedAt = time.Now()
	p.progress.running.Add(-1)

	if code == 0 {
		result.Status = model.BuildStatusSucceeded
		p.progress.built.Add(1)
	} else {
		result.Status = model.BuildStatusFailed
		p.progress.failed.Add(1)
		if p.firstFailure == nil {
			p.firstFailure = result
		}
		p.logger.Error("Build failed",
			zap.Int("executor", slot.Index),
			zap.String("board", result.Board),
			zap.Int("exit_code", code))
		p.reporter.Report(p.failure(slot, result))
	}

	for _, l := range p.listeners {
		l.BuildFinished(ctx, result)
	}
	p.results[slot.Index] = nil
	slot.Release()
}

func (p *Pool) failure(slot *executor.Slot, result *model.BuildResult) *model.BuildFailure {
	failure := &model.BuildFailure{
		Result:     result,
		Dir:        slot.Workspace.Dir,
		ConfigPath: p.launcher.ConfigPath(build.Request{Dir: slot.Workspace.Dir}),
	}

	config, err := afero.ReadFile(p.fs, failure.ConfigPath)
	if err != nil {
		p.logger.Error("Failed to read build configuration", zap.String("path", failure.ConfigPath), zap.Error(err))
	}
	failure.Config = config

	failure.Stdout, failure.Stderr, err = slot.Process().Output()
	if err != nil {
		p.logger.Error("Failed to read build output", zap.Int("executor", slot.Index), zap.Error(err))
	}
	return failure
}

func (p *Pool) idleSlot() *executor.Slot {
	for _, slot := range p.slots {
		if slot.Poll() == model.ExecutorStateIdle {
			return slot
		}
	}
	return nil
}

func (p *Pool) anyFinished() bool {
	for _, slot := range p.slots {
		if slot.Poll() == model.ExecutorStateFinished {
			return true
		}
	}
	return false
}

func (p *Pool) busy() bool {
	for _, slot := range p.slots {
		if slot.Poll() != model.ExecutorStateIdle {
			return true
		}
	}
	return false
}

// teardown stops anything still running, then removes every workspace and
// the shared matrix build directory of the project.
func (p *Pool) teardown(workspaces []*workspace.Workspace) error {
	// Builds that exited on their own are collected as usual; only those
	// still running when teardown starts count as canceled.
	running := make([]bool, len(p.slots))
	for i, slot := range p.slots {
		running[i] = slot.Poll() == model.ExecutorStateRunning
	}
	p.resources.KillAll(p.slots)

	ctx := context.Background()
	for i, slot := range p.slots {
		if slot.Process() == nil {
			continue
		}
		if !running[i] && p.results[slot.Index] != nil {
			p.collectSlot(ctx, slot)
			continue
		}
		if result := p.results[slot.Index]; result != nil {
			result.Status = model.BuildStatusCanceled
			result.CompletedAt = time.Now()
			if code, err := slot.Process().ExitCode(); err == nil {
				result.ExitCode = code
			}
			for _, l := range p.listeners {
				l.BuildFinished(ctx, result)
			}
			p.results[slot.Index] = nil
		}
		p.progress.running.Add(-1)
		slot.Release()
	}

	p.logger.Info("Removing workspaces", zap.Int("count", len(workspaces)))
	err := workspace.CloseAll(workspaces)

	if p.config.ProjectDir != "" {
		dir := filepath.Join(p.config.ProjectDir, filepath.FromSlash(matrixBuildDir))
		if rmErr := p.fs.RemoveAll(dir); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = multierr.Append(err, fmt.Errorf("failed to remove %s: %w", dir, rmErr))
		}
	}
	return err
}
