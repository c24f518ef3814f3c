package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db           *BadgerDB
	section      interfaces.SectionStorage
	architecture interfaces.ArchitectureStorage
	checkpoint   interfaces.CheckpointStorage
	failure      interfaces.FailureStorage
	report       interfaces.ReportStorage
	logger       arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:           db,
		section:      NewSectionStorage(db, logger),
		architecture: NewArchitectureStorage(db, logger),
		checkpoint:   NewCheckpointStorage(db, logger),
		failure:      NewFailureStorage(db, logger),
		report:       NewReportStorage(db, logger),
		logger:       logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// SectionStorage returns the Section storage interface
func (m *Manager) SectionStorage() interfaces.SectionStorage {
	return m.section
}

// ArchitectureStorage returns the CodeArchitecture storage interface
func (m *Manager) ArchitectureStorage() interfaces.ArchitectureStorage {
	return m.architecture
}

// CheckpointStorage returns the Checkpoint storage interface
func (m *Manager) CheckpointStorage() interfaces.CheckpointStorage {
	return m.checkpoint
}

// FailureStorage returns the FailureRecord storage interface
func (m *Manager) FailureStorage() interfaces.FailureStorage {
	return m.failure
}

// ReportStorage returns the RunReport storage interface
func (m *Manager) ReportStorage() interfaces.ReportStorage {
	return m.report
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
