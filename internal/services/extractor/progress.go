package extractor

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/calegis/calegis/internal/interfaces"
)

// LogObserver reports batch progress through the structured logger
type LogObserver struct {
	logger arbor.ILogger
}

func NewLogObserver(logger arbor.ILogger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnBatchComplete(u interfaces.ProgressUpdate) {
	event := o.logger.Info().
		Str("code", u.Code).
		Str("stage", string(u.Stage)).
		Str("batch", fmt.Sprintf("%d/%d", u.Batch, u.TotalBatches)).
		Int("processed", u.Processed).
		Int("failed", u.Failed).
		Str("success_rate", fmt.Sprintf("%.1f%%", u.SuccessRate*100)).
		Str("rate", fmt.Sprintf("%.1f/s", u.Rate)).
		Float64("batch_sec", u.BatchDuration.Seconds())

	if u.ETA > 0 {
		event = event.Str("eta", u.ETA.Round(time.Second).String())
	}

	event.Msg("Batch complete")
}

var _ interfaces.ProgressObserver = (*LogObserver)(nil)
