package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calegis/calegis/internal/models"
)

func TestSaveAndLoadCheckpoint(t *testing.T) {
	store := newTestManager(t).CheckpointStorage()

	cp := &models.Checkpoint{
		Code:           "EVID",
		Stage:          models.StageExtraction,
		Status:         models.CheckpointInProgress,
		CurrentBatch:   3,
		TotalBatches:   10,
		ProcessedCount: 150,
		WorkerCount:    15,
	}
	require.NoError(t, store.SaveCheckpoint(cp))

	loaded, err := store.LoadCheckpoint("EVID", models.StageExtraction)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 3, loaded.CurrentBatch)
	assert.Equal(t, 10, loaded.TotalBatches)
	assert.Equal(t, models.CheckpointInProgress, loaded.Status)
	assert.False(t, loaded.StartedAt.IsZero())
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestLoadCheckpointMissingIsNil(t *testing.T) {
	store := newTestManager(t).CheckpointStorage()

	cp, err := store.LoadCheckpoint("EVID", models.StageExtraction)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestCheckpointPerStageKeys(t *testing.T) {
	store := newTestManager(t).CheckpointStorage()

	require.NoError(t, store.SaveCheckpoint(&models.Checkpoint{
		Code: "EVID", Stage: models.StageExtraction, Status: models.CheckpointCompleted, CurrentBatch: 5,
	}))
	require.NoError(t, store.SaveCheckpoint(&models.Checkpoint{
		Code: "EVID", Stage: models.StageReconcile, Status: models.CheckpointInProgress, CurrentBatch: 1,
	}))

	extract, err := store.LoadCheckpoint("EVID", models.StageExtraction)
	require.NoError(t, err)
	assert.Equal(t, 5, extract.CurrentBatch)

	reconcile, err := store.LoadCheckpoint("EVID", models.StageReconcile)
	require.NoError(t, err)
	assert.Equal(t, 1, reconcile.CurrentBatch)
}

func TestDeleteCheckpoints(t *testing.T) {
	store := newTestManager(t).CheckpointStorage()

	require.NoError(t, store.SaveCheckpoint(&models.Checkpoint{
		Code: "EVID", Stage: models.StageExtraction, Status: models.CheckpointPaused,
	}))
	require.NoError(t, store.SaveCheckpoint(&models.Checkpoint{
		Code: "PEN", Stage: models.StageExtraction, Status: models.CheckpointPaused,
	}))

	require.NoError(t, store.DeleteCheckpoints("EVID"))

	gone, err := store.LoadCheckpoint("EVID", models.StageExtraction)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := store.LoadCheckpoint("PEN", models.StageExtraction)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
