package badger

import (
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
)

// ArchitectureStorage implements the ArchitectureStorage interface for Badger
type ArchitectureStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewArchitectureStorage creates a new ArchitectureStorage instance
func NewArchitectureStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ArchitectureStorage {
	return &ArchitectureStorage{
		db:     db,
		logger: logger,
	}
}

// PutCodeArchitecture replaces the architecture document for a code.
// MultiVersionSections is additive: identifiers already persisted are
// preserved even when absent from the incoming document.
func (s *ArchitectureStorage) PutCodeArchitecture(arch *models.CodeArchitecture) error {
	if arch.Code == "" {
		return fmt.Errorf("architecture code is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if arch.CreatedAt.IsZero() {
		arch.CreatedAt = now
	}
	arch.UpdatedAt = now

	var existing models.CodeArchitecture
	err := s.db.Store().Get(arch.Code, &existing)
	if err == nil {
		arch.CreatedAt = existing.CreatedAt
		arch.MultiVersionSections = mergeStringSets(existing.MultiVersionSections, arch.MultiVersionSections)
	} else if err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to load architecture: %w", err)
	}

	if err := s.db.Store().Upsert(arch.Code, arch); err != nil {
		return fmt.Errorf("failed to save architecture: %w", err)
	}
	return nil
}

func (s *ArchitectureStorage) GetCodeArchitecture(code string) (*models.CodeArchitecture, error) {
	var arch models.CodeArchitecture
	if err := s.db.Store().Get(code, &arch); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("architecture not found: %s", code)
		}
		return nil, fmt.Errorf("failed to get architecture: %w", err)
	}
	return &arch, nil
}

// AddMultiVersionSections merges section identifiers into the persisted
// multi-version set
func (s *ArchitectureStorage) AddMultiVersionSections(code string, sectionIDs []string) error {
	if len(sectionIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var arch models.CodeArchitecture
	if err := s.db.Store().Get(code, &arch); err != nil {
		return fmt.Errorf("failed to load architecture: %w", err)
	}

	arch.MultiVersionSections = mergeStringSets(arch.MultiVersionSections, sectionIDs)
	arch.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(code, &arch); err != nil {
		return fmt.Errorf("failed to save architecture: %w", err)
	}
	return nil
}

// MarkStageDone sets the stage-completion flag with a timestamp
func (s *ArchitectureStorage) MarkStageDone(code string, stage models.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var arch models.CodeArchitecture
	if err := s.db.Store().Get(code, &arch); err != nil {
		return fmt.Errorf("failed to load architecture: %w", err)
	}

	now := time.Now()
	switch stage {
	case models.StageDiscovery:
		arch.StageFlags.Stage1Done = true
		arch.StageFlags.Stage1DoneAt = &now
	case models.StageExtraction:
		arch.StageFlags.Stage2Done = true
		arch.StageFlags.Stage2DoneAt = &now
	case models.StageMultiVersion:
		arch.StageFlags.Stage3Done = true
		arch.StageFlags.Stage3DoneAt = &now
	default:
		return fmt.Errorf("stage %s has no completion flag", stage)
	}
	arch.UpdatedAt = now

	if err := s.db.Store().Upsert(code, &arch); err != nil {
		return fmt.Errorf("failed to save architecture: %w", err)
	}
	return nil
}

func (s *ArchitectureStorage) DeleteCodeArchitecture(code string) error {
	if err := s.db.Store().Delete(code, &models.CodeArchitecture{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete architecture: %w", err)
	}
	return nil
}

// mergeStringSets unions two slices preserving first-seen order
func mergeStringSets(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, v := range existing {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			merged = append(merged, v)
		}
	}
	for _, v := range incoming {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			merged = append(merged, v)
		}
	}
	return merged
}
