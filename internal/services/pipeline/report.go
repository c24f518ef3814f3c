package pipeline

import (
	"fmt"
	"time"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
)

// buildReport snapshots the store into the final run report. Success
// rate counts sections that hold content or, for multi-version
// sections, at least one resolved version.
func (c *Controller) buildReport(code, sessionID string, start time.Time, timings []models.StageTiming, interrupted bool) (*models.RunReport, error) {
	sections, err := c.storage.SectionStorage().ListSections(code)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections for report: %w", err)
	}

	completed := 0
	multiVersion := 0
	for _, sec := range sections {
		if sec.IsMultiVersion {
			multiVersion++
		}
		if sec.IsComplete() {
			completed++
		}
	}

	total := len(sections)
	rate := 0.0
	if total > 0 {
		rate = float64(completed) / float64(total)
	}

	byType, byStage, err := c.failureBreakdown(code)
	if err != nil {
		return nil, err
	}

	return &models.RunReport{
		ID:                common.NewReportID(),
		Code:              code,
		SessionID:         sessionID,
		StartedAt:         start,
		EndedAt:           time.Now(),
		TotalSections:     total,
		CompletedSections: completed,
		MultiVersionCount: multiVersion,
		FailedSections:    total - completed,
		SuccessRate:       rate,
		StageTimings:      timings,
		FailuresByType:    byType,
		FailuresByStage:   byStage,
		Interrupted:       interrupted,
		ExitCode:          models.ComputeExitCode(rate, interrupted),
	}, nil
}

// failureBreakdown tallies unresolved failures, latest record per section
func (c *Controller) failureBreakdown(code string) (map[models.FailureType]int, map[models.Stage]int, error) {
	records, err := c.storage.FailureStorage().ListFailures(code, interfaces.FailureFilter{CurrentOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list failures for report: %w", err)
	}

	byType := make(map[models.FailureType]int)
	byStage := make(map[models.Stage]int)
	for _, record := range records {
		if record.RetryStatus == models.RetrySucceeded {
			continue
		}
		byType[record.FailureType]++
		byStage[record.Stage]++
	}
	return byType, byStage, nil
}
