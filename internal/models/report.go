package models

import (
	"time"
)

// StageTiming records wall-clock duration of one pipeline stage
type StageTiming struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// RunReport is the final report document written by the pipeline
// controller on exit. One report per run, keyed by ID.
type RunReport struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	TotalSections     int     `json:"total_sections"`
	CompletedSections int     `json:"completed_sections"`
	MultiVersionCount int     `json:"multi_version_count"`
	FailedSections    int     `json:"failed_sections"`
	SuccessRate       float64 `json:"success_rate"` // 0..1

	StageTimings []StageTiming `json:"stage_timings"`

	// Failure breakdown by type and by stage
	FailuresByType  map[FailureType]int `json:"failures_by_type"`
	FailuresByStage map[Stage]int       `json:"failures_by_stage"`

	Interrupted bool `json:"interrupted"`
	ExitCode    int  `json:"exit_code"`
}

// Exit code policy: 0 when the completion rate is at least 99%, 130 when
// interrupted by signal, 1 otherwise.
const (
	ExitSuccess     = 0
	ExitDegraded    = 1
	ExitInterrupted = 130
)

// ComputeExitCode maps a run outcome to the process exit code
func ComputeExitCode(successRate float64, interrupted bool) int {
	if interrupted {
		return ExitInterrupted
	}
	if successRate >= 0.99 {
		return ExitSuccess
	}
	return ExitDegraded
}
