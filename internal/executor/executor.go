// Package executor holds the per-slot build state of the pool: the slot
// itself, the process handle it owns and the machine resources that size the
// pool.
package executor

import (
	"time"

	"go.uber.org/zap"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/workspace"
)

// Slot is one executor of the pool. It exclusively owns its workspace and
// holds at most one solution and one process at a time.
type Slot struct {
	Index     int
	Workspace *workspace.Workspace

	logger    *zap.Logger
	solution  model.Solution
	process   Process
	startedAt time.Time
}

// NewSlot creates an idle slot bound to a workspace
func NewSlot(index int, ws *workspace.Workspace, logger *zap.Logger) *Slot {
	return &Slot{
		Index:     index,
		Workspace: ws,
		logger:    logger.Named("slot").With(zap.Int("executor", index)),
	}
}

// Poll reports the slot state. A slot without a process is idle; a slot
// whose process has exited is finished until released.
func (s *Slot) Poll() model.ExecutorState {
	if s.process == nil {
		return model.ExecutorStateIdle
	}
	if s.process.Poll() {
		return model.ExecutorStateFinished
	}
	return model.ExecutorStateRunning
}

// Assign attaches a solution and the process building it
func (s *Slot) Assign(solution model.Solution, process Process) error {
	if s.process != nil {
		return ErrSlotBusy
	}
	if len(solution) == 0 || process == nil {
		return ErrNoSolution
	}
	s.solution = solution
	s.process = process
	s.startedAt = time.Now()

	s.logger.Debug("Build assigned",
		zap.String("board", solution.Board()),
		zap.String("solution", solution.Key()))
	return nil
}

// Release detaches the solution and process, returning the slot to idle
func (s *Slot) Release() {
	if s.process != nil {
		if err := s.process.Close(); err != nil {
			s.logger.Warn("Failed to release process", zap.Error(err))
		}
	}
	s.solution = nil
	s.process = nil
	s.startedAt = time.Time{}
}

// Solution returns the attached solution, nil when idle
func (s *Slot) Solution() model.Solution {
	return s.solution
}

// Process returns the attached process, nil when idle
func (s *Slot) Process() Process {
	return s.process
}

// StartedAt returns when the current build was assigned
func (s *Slot) StartedAt() time.Time {
	return s.startedAt
}

// Drain moves pending output of a running process into its buffers so the
// child never stalls on a full pipe.
func (s *Slot) Drain(timeout time.Duration) {
	if s.process != nil {
		s.process.Drain(timeout)
	}
}
