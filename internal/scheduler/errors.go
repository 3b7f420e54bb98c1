package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrInterrupted is returned when the run is cancelled before all builds finished
	ErrInterrupted = errors.New("build run interrupted")

	// ErrNoWorkspaces is returned when provisioning yields fewer workspaces than requested
	ErrNoWorkspaces = errors.New("no workspaces provisioned")
)

// BuildError is returned when at least one build exited non-zero. Code is the
// exit code of the first failing build.
type BuildError struct {
	Code     int
	Board    string
	Priming  bool
	Failures int
}

func (e *BuildError) Error() string {
	if e.Priming {
		return fmt.Sprintf("priming build for %s failed with exit code %d", e.Board, e.Code)
	}
	return fmt.Sprintf("%d build(s) failed, first for %s with exit code %d", e.Failures, e.Board, e.Code)
}

// ExitCode returns the process exit code for the run
func (e *BuildError) ExitCode() int {
	if e.Code > 0 {
		return e.Code
	}
	return 1
}
