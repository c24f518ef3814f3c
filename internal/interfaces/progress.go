package interfaces

import (
	"time"

	"github.com/calegis/calegis/internal/models"
)

// ProgressUpdate is emitted by the extractor after each batch
type ProgressUpdate struct {
	Code          string
	Stage         models.Stage
	Batch         int
	TotalBatches  int
	Processed     int
	Succeeded     int
	Failed        int
	SuccessRate   float64       // successes / processed
	Rate          float64       // successes / elapsed second
	ETA           time.Duration // estimated time to completion at the current rate
	Elapsed       time.Duration
	WorkerCount   int
	BatchDuration time.Duration
}

// ProgressObserver receives batch-granular progress events
type ProgressObserver interface {
	OnBatchComplete(update ProgressUpdate)
}
