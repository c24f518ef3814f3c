package badger

import (
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
)

// ReportStorage implements the ReportStorage interface for Badger
type ReportStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewReportStorage creates a new ReportStorage instance
func NewReportStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ReportStorage {
	return &ReportStorage{
		db:     db,
		logger: logger,
	}
}

// SaveReport persists a final run report
func (s *ReportStorage) SaveReport(report *models.RunReport) error {
	if report.ID == "" {
		report.ID = common.NewReportID()
	}
	if err := s.db.Store().Upsert(report.ID, report); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// ListReports returns all reports for a code, newest first
func (s *ReportStorage) ListReports(code string) ([]*models.RunReport, error) {
	var reports []models.RunReport
	if err := s.db.Store().Find(&reports, badgerhold.Where("Code").Eq(code)); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].StartedAt.After(reports[j].StartedAt)
	})

	result := make([]*models.RunReport, len(reports))
	for i := range reports {
		result[i] = &reports[i]
	}
	return result, nil
}
