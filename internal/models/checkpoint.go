package models

import (
	"fmt"
	"time"
)

// Stage identifies one phase of the pipeline
type Stage string

const (
	StageDiscovery    Stage = "stage1"
	StageExtraction   Stage = "stage2"
	StageMultiVersion Stage = "stage3"
	StageReconcile    Stage = "reconcile"
	StageRetry        Stage = "retry"
)

// CheckpointStatus is the lifecycle state of a stage checkpoint
type CheckpointStatus string

const (
	CheckpointInProgress CheckpointStatus = "in_progress"
	CheckpointPaused     CheckpointStatus = "paused"
	CheckpointCompleted  CheckpointStatus = "completed"
	CheckpointFailed     CheckpointStatus = "failed"
)

// Checkpoint is the durable progress record for one (code, stage).
// CurrentBatch is 1-indexed and inclusive of the last completed batch, so
// a resume starts at CurrentBatch+1. It is written only after the batch's
// section writes, so it never overstates progress.
type Checkpoint struct {
	ID               string           `json:"id"` // <code>:<stage>
	Code             string           `json:"code"`
	Stage            Stage            `json:"stage"`
	Status           CheckpointStatus `json:"status"`
	CurrentBatch     int              `json:"current_batch"`
	TotalBatches     int              `json:"total_batches"`
	ProcessedCount   int              `json:"processed_count"`
	FailedSectionIDs []string         `json:"failed_section_ids"`
	WorkerCount      int              `json:"worker_count"`
	StartedAt        time.Time        `json:"started_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Error            string           `json:"error,omitempty"`
}

// CheckpointKey builds the composite storage key for a checkpoint
func CheckpointKey(code string, stage Stage) string {
	return fmt.Sprintf("%s:%s", code, stage)
}

// AddFailedSections merges new failures into the checkpoint's failed set,
// preserving insertion order and dropping duplicates
func (c *Checkpoint) AddFailedSections(sectionIDs []string) {
	seen := make(map[string]struct{}, len(c.FailedSectionIDs))
	for _, id := range c.FailedSectionIDs {
		seen[id] = struct{}{}
	}
	for _, id := range sectionIDs {
		if _, ok := seen[id]; !ok {
			c.FailedSectionIDs = append(c.FailedSectionIDs, id)
			seen[id] = struct{}{}
		}
	}
}
