package model

import "time"

// ExecutorState represents the state of one build slot
type ExecutorState string

const (
	ExecutorStateIdle     ExecutorState = "idle"
	ExecutorStateRunning  ExecutorState = "running"
	ExecutorStateFinished ExecutorState = "finished"
)

// ExecutorStats represents host resource usage sampled during a run
type ExecutorStats struct {
	RunningBuilds int       `json:"running_builds"`
	CPUUsage      float64   `json:"cpu_usage"`
	MemoryUsage   float64   `json:"memory_usage"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Progress is a snapshot of how far a run has got
type Progress struct {
	Total   int `json:"total"`
	Started int `json:"started"`
	Built   int `json:"built"`
	Failed  int `json:"failed"`
	Running int `json:"running"`
}
