package main

import (
	"fmt"

	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
)

// runStatus prints stage progress, checkpoint state, the open failure
// breakdown, and the latest run report for a code
func runStatus(storage interfaces.StorageManager, code string) int {
	arch, err := storage.ArchitectureStorage().GetCodeArchitecture(code)
	if err != nil {
		fmt.Printf("No data for %s: %v\n", code, err)
		return 1
	}

	total, _ := storage.SectionStorage().CountSections(code)
	withContent, _ := storage.SectionStorage().CountHasContent(code)

	fmt.Printf("Code: %s\n", code)
	fmt.Printf("  Stage 1 (discovery):     done=%v\n", arch.StageFlags.Stage1Done)
	fmt.Printf("  Stage 2 (extraction):    done=%v\n", arch.StageFlags.Stage2Done)
	fmt.Printf("  Stage 3 (multi-version): done=%v\n", arch.StageFlags.Stage3Done)
	fmt.Printf("  Sections: %d total, %d with content, %d flagged multi-version\n",
		total, withContent, len(arch.MultiVersionSections))

	for _, stage := range []models.Stage{models.StageExtraction, models.StageMultiVersion, models.StageReconcile} {
		cp, err := storage.CheckpointStorage().LoadCheckpoint(code, stage)
		if err != nil || cp == nil {
			continue
		}
		fmt.Printf("  Checkpoint %-12s %s batch %d/%d\n", string(stage)+":", cp.Status, cp.CurrentBatch, cp.TotalBatches)
	}

	printFailureBreakdown(storage, code)

	reports, err := storage.ReportStorage().ListReports(code)
	if err == nil && len(reports) > 0 {
		last := reports[0] // newest first
		fmt.Printf("  Last run: %s  success %.2f%%  exit %d  interrupted=%v\n",
			last.EndedAt.Format("2006-01-02 15:04:05"), last.SuccessRate*100, last.ExitCode, last.Interrupted)
	}

	return 0
}

func printFailureBreakdown(storage interfaces.StorageManager, code string) {
	records, err := storage.FailureStorage().ListFailures(code, interfaces.FailureFilter{CurrentOnly: true})
	if err != nil || len(records) == 0 {
		return
	}

	open := 0
	byType := map[models.FailureType]int{}
	for _, r := range records {
		if r.RetryStatus == models.RetrySucceeded {
			continue
		}
		open++
		byType[r.FailureType]++
	}
	if open == 0 {
		return
	}

	fmt.Printf("  Open failures: %d\n", open)
	for kind, count := range byType {
		fmt.Printf("    %-22s %d\n", string(kind)+":", count)
	}
}
