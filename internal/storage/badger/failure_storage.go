package badger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
)

// FailureStorage implements the FailureStorage interface for Badger.
// Records accrete: one per (code, section, attempt), never deleted.
type FailureStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewFailureStorage creates a new FailureStorage instance
func NewFailureStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FailureStorage {
	return &FailureStorage{
		db:     db,
		logger: logger,
	}
}

// LogFailure persists a failure record, assigning the next attempt number
// when the caller left it zero
func (s *FailureStorage) LogFailure(record *models.FailureRecord) error {
	if record.Code == "" || record.SectionID == "" {
		return fmt.Errorf("failure code and section ID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if record.AttemptNumber == 0 {
		next, err := s.nextAttemptLocked(record.Code, record.SectionID)
		if err != nil {
			return err
		}
		record.AttemptNumber = next
	}

	record.ID = models.FailureKey(record.Code, record.SectionID, record.AttemptNumber)
	if record.FailedAt.IsZero() {
		record.FailedAt = time.Now()
	}
	if record.RetryStatus == "" {
		record.RetryStatus = models.RetryPending
	}

	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to log failure: %w", err)
	}

	s.logger.Debug().
		Str("code", record.Code).
		Str("section_id", record.SectionID).
		Str("failure_type", string(record.FailureType)).
		Int("attempt", record.AttemptNumber).
		Msg("Failure logged")

	return nil
}

// ListFailures returns failure records for a code matching the filter,
// ordered by section then attempt
func (s *FailureStorage) ListFailures(code string, filter interfaces.FailureFilter) ([]*models.FailureRecord, error) {
	query := badgerhold.Where("Code").Eq(code)
	if filter.Type != "" {
		query = query.And("FailureType").Eq(filter.Type)
	}
	if filter.Stage != "" {
		query = query.And("Stage").Eq(filter.Stage)
	}
	if filter.RetryStatus != "" {
		query = query.And("RetryStatus").Eq(filter.RetryStatus)
	}
	if filter.SectionID != "" {
		query = query.And("SectionID").Eq(filter.SectionID)
	}

	var records []models.FailureRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].SectionID != records[j].SectionID {
			return records[i].SectionID < records[j].SectionID
		}
		return records[i].AttemptNumber < records[j].AttemptNumber
	})

	if filter.CurrentOnly {
		latest := make(map[string]*models.FailureRecord)
		order := []string{}
		for i := range records {
			r := &records[i]
			if _, ok := latest[r.SectionID]; !ok {
				order = append(order, r.SectionID)
			}
			latest[r.SectionID] = r
		}
		result := make([]*models.FailureRecord, 0, len(order))
		for _, id := range order {
			result = append(result, latest[id])
		}
		return result, nil
	}

	result := make([]*models.FailureRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

// LatestFailure returns the highest-attempt record for a section, or
// (nil, nil) when the section never failed
func (s *FailureStorage) LatestFailure(code, sectionID string) (*models.FailureRecord, error) {
	records, err := s.ListFailures(code, interfaces.FailureFilter{SectionID: sectionID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[len(records)-1], nil
}

// NextAttemptNumber returns 1 + the highest recorded attempt for a section
func (s *FailureStorage) NextAttemptNumber(code, sectionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextAttemptLocked(code, sectionID)
}

func (s *FailureStorage) nextAttemptLocked(code, sectionID string) (int, error) {
	var records []models.FailureRecord
	query := badgerhold.Where("Code").Eq(code).And("SectionID").Eq(sectionID)
	if err := s.db.Store().Find(&records, query); err != nil {
		return 0, fmt.Errorf("failed to find failures: %w", err)
	}
	max := 0
	for _, r := range records {
		if r.AttemptNumber > max {
			max = r.AttemptNumber
		}
	}
	return max + 1, nil
}

// UpdateRetryStatus transitions the latest record for a section, appending
// the attempt to its retry trail when non-nil. Succeeded and abandoned
// transitions stamp ResolvedAt.
func (s *FailureStorage) UpdateRetryStatus(code, sectionID string, status models.RetryStatus, attempt *models.RetryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.LatestFailure(code, sectionID)
	if err != nil {
		return err
	}
	if latest == nil {
		return fmt.Errorf("no failure record for %s/%s", code, sectionID)
	}

	latest.RetryStatus = status
	if attempt != nil {
		latest.RetryAttempts = append(latest.RetryAttempts, *attempt)
	}
	if status == models.RetrySucceeded || status == models.RetryAbandoned {
		now := time.Now()
		latest.ResolvedAt = &now
	}

	if err := s.db.Store().Upsert(latest.ID, latest); err != nil {
		return fmt.Errorf("failed to update retry status: %w", err)
	}
	return nil
}
