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

// SectionStorage implements the SectionStorage interface for Badger
type SectionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Serializes read-modify-write upserts so concurrent batch writers
	// cannot interleave between Get and Upsert on the same key
	mu sync.Mutex
}

// NewSectionStorage creates a new SectionStorage instance
func NewSectionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SectionStorage {
	return &SectionStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertSection writes the section if absent, otherwise applies a sparse
// merge: nil update fields do not overwrite persisted values, and
// CreatedAt is set only on insert. Re-running discovery (URL only) can
// therefore never erase content extracted later.
func (s *SectionStorage) UpsertSection(code, sectionID string, update models.SectionUpdate) error {
	if code == "" || sectionID == "" {
		return fmt.Errorf("code and section ID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertLocked(code, sectionID, update)
}

// BulkUpsertSections applies sparse-merge upserts for a batch of sections
func (s *SectionStorage) BulkUpsertSections(code string, updates []models.SectionUpsert) error {
	if code == "" {
		return fmt.Errorf("code is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		if err := s.upsertLocked(code, u.SectionID, u.Update); err != nil {
			return fmt.Errorf("bulk upsert %s/%s: %w", code, u.SectionID, err)
		}
	}
	return nil
}

func (s *SectionStorage) upsertLocked(code, sectionID string, update models.SectionUpdate) error {
	key := models.SectionKey(code, sectionID)
	now := time.Now()

	var section models.Section
	err := s.db.Store().Get(key, &section)
	if err == badgerhold.ErrNotFound {
		section = models.Section{
			ID:        key,
			Code:      code,
			SectionID: sectionID,
			CreatedAt: now,
		}
	} else if err != nil {
		return fmt.Errorf("failed to load section: %w", err)
	}

	applyUpdate(&section, update)
	section.ContentLength = len(section.Content)
	section.UpdatedAt = now

	if err := s.db.Store().Upsert(key, &section); err != nil {
		return fmt.Errorf("failed to save section: %w", err)
	}
	return nil
}

// applyUpdate copies the non-nil fields of a sparse update onto a section
func applyUpdate(section *models.Section, update models.SectionUpdate) {
	if update.URL != nil {
		section.URL = *update.URL
	}
	if update.Content != nil {
		section.Content = *update.Content
	}
	if update.RawContent != nil {
		section.RawContent = *update.RawContent
	}
	if update.LegislativeHistory != nil {
		section.LegislativeHistory = *update.LegislativeHistory
	}
	if update.IsMultiVersion != nil {
		section.IsMultiVersion = *update.IsMultiVersion
	}
	if update.VersionNumber != nil {
		section.VersionNumber = *update.VersionNumber
	}
	if update.IsCurrent != nil {
		section.IsCurrent = *update.IsCurrent
	}
	if update.Versions != nil {
		section.Versions = update.Versions
	}
	if update.Seq != nil {
		section.Seq = *update.Seq
	}
	if update.Division != nil {
		section.Division = *update.Division
	}
	if update.Part != nil {
		section.Part = *update.Part
	}
	if update.Title != nil {
		section.Title = *update.Title
	}
	if update.Chapter != nil {
		section.Chapter = *update.Chapter
	}
	if update.Article != nil {
		section.Article = *update.Article
	}
}

func (s *SectionStorage) GetSection(code, sectionID string) (*models.Section, error) {
	var section models.Section
	if err := s.db.Store().Get(models.SectionKey(code, sectionID), &section); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("section not found: %s/%s", code, sectionID)
		}
		return nil, fmt.Errorf("failed to get section: %w", err)
	}
	return &section, nil
}

// ListSections returns all sections of a code in manifest (Seq) order
func (s *SectionStorage) ListSections(code string) ([]*models.Section, error) {
	var sections []models.Section
	if err := s.db.Store().Find(&sections, badgerhold.Where("Code").Eq(code)); err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	return sortedPointers(sections), nil
}

// ListPendingSections returns sections still awaiting extraction: no
// content and not flagged multi-version, in manifest order
func (s *SectionStorage) ListPendingSections(code string) ([]*models.Section, error) {
	var sections []models.Section
	query := badgerhold.Where("Code").Eq(code).
		And("ContentLength").Eq(0).
		And("IsMultiVersion").Eq(false)
	if err := s.db.Store().Find(&sections, query); err != nil {
		return nil, fmt.Errorf("failed to list pending sections: %w", err)
	}
	return sortedPointers(sections), nil
}

func (s *SectionStorage) ListMultiVersionSections(code string) ([]*models.Section, error) {
	var sections []models.Section
	query := badgerhold.Where("Code").Eq(code).And("IsMultiVersion").Eq(true)
	if err := s.db.Store().Find(&sections, query); err != nil {
		return nil, fmt.Errorf("failed to list multi-version sections: %w", err)
	}
	return sortedPointers(sections), nil
}

func (s *SectionStorage) CountSections(code string) (int, error) {
	count, err := s.db.Store().Count(&models.Section{}, badgerhold.Where("Code").Eq(code))
	if err != nil {
		return 0, fmt.Errorf("failed to count sections: %w", err)
	}
	return int(count), nil
}

func (s *SectionStorage) CountHasContent(code string) (int, error) {
	count, err := s.db.Store().Count(&models.Section{},
		badgerhold.Where("Code").Eq(code).And("ContentLength").Gt(0))
	if err != nil {
		return 0, fmt.Errorf("failed to count sections with content: %w", err)
	}
	return int(count), nil
}

func (s *SectionStorage) DeleteSections(code string) error {
	if err := s.db.Store().DeleteMatching(&models.Section{}, badgerhold.Where("Code").Eq(code)); err != nil {
		return fmt.Errorf("failed to delete sections: %w", err)
	}
	return nil
}

// sortedPointers orders query results by manifest position, falling back
// to the section ID for records seeded without one
func sortedPointers(sections []models.Section) []*models.Section {
	result := make([]*models.Section, len(sections))
	for i := range sections {
		result[i] = &sections[i]
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Seq != result[j].Seq {
			return result[i].Seq < result[j].Seq
		}
		return result[i].SectionID < result[j].SectionID
	})
	return result
}
