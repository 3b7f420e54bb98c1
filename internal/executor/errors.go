package executor

import "errors"

var (
	// ErrSlotBusy is returned when assigning to a slot that still owns a process
	ErrSlotBusy = errors.New("executor slot is busy")

	// ErrNoSolution is returned when assigning an empty solution
	ErrNoSolution = errors.New("no solution to assign")

	// ErrNotExited is returned when reading results of a process that is still running
	ErrNotExited = errors.New("process has not exited")
)
