package model

import (
	"time"
)

// ConfigFileName is the generated header that carries a solution's flags
const ConfigFileName = "Configuration_local_matrix.hpp"

// BuildStatus represents the current status of a single configuration build
type BuildStatus string

const (
	BuildStatusPending   BuildStatus = "pending"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCanceled  BuildStatus = "canceled"
)

// BuildResult represents the outcome of building one solution
type BuildResult struct {
	ID          string      `json:"id"`
	RunID       string      `json:"run_id"`
	Executor    int         `json:"executor"`
	Board       string      `json:"board"`
	Solution    Solution    `json:"solution"`
	Status      BuildStatus `json:"status"`
	ExitCode    int         `json:"exit_code"`
	Priming     bool        `json:"priming"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
}

// Duration returns how long the build ran
func (r *BuildResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// BuildFailure carries what is needed to report one failed build
type BuildFailure struct {
	Result     *BuildResult
	Dir        string
	ConfigPath string
	Config     []byte
	Stdout     []byte
	Stderr     []byte
}
