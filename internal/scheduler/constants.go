package scheduler

import "time"

const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultDrainTimeout = 100 * time.Millisecond
	DefaultJobs         = 1

	// Shared PlatformIO output of the project, removed at teardown
	matrixBuildDir = ".pio/build/matrix"
)
