package badger

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
)

// CheckpointStorage implements the CheckpointStorage interface for Badger
type CheckpointStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCheckpointStorage creates a new CheckpointStorage instance
func NewCheckpointStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CheckpointStorage {
	return &CheckpointStorage{
		db:     db,
		logger: logger,
	}
}

// SaveCheckpoint writes a checkpoint atomically per (code, stage) key
func (s *CheckpointStorage) SaveCheckpoint(cp *models.Checkpoint) error {
	if cp.Code == "" || cp.Stage == "" {
		return fmt.Errorf("checkpoint code and stage are required")
	}

	cp.ID = models.CheckpointKey(cp.Code, cp.Stage)
	cp.UpdatedAt = time.Now()
	if cp.StartedAt.IsZero() {
		cp.StartedAt = cp.UpdatedAt
	}

	if err := s.db.Store().Upsert(cp.ID, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.logger.Debug().
		Str("code", cp.Code).
		Str("stage", string(cp.Stage)).
		Str("status", string(cp.Status)).
		Int("current_batch", cp.CurrentBatch).
		Int("total_batches", cp.TotalBatches).
		Msg("Checkpoint saved")

	return nil
}

// LoadCheckpoint returns the checkpoint for (code, stage), or (nil, nil)
// when none exists
func (s *CheckpointStorage) LoadCheckpoint(code string, stage models.Stage) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	if err := s.db.Store().Get(models.CheckpointKey(code, stage), &cp); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return &cp, nil
}

// DeleteCheckpoints removes all checkpoints for a code
func (s *CheckpointStorage) DeleteCheckpoints(code string) error {
	if err := s.db.Store().DeleteMatching(&models.Checkpoint{}, badgerhold.Where("Code").Eq(code)); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}
