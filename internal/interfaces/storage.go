package interfaces

import (
	"github.com/calegis/calegis/internal/models"
)

// SectionStorage persists section documents.
//
// Upserts apply the sparse-merge rule: nil fields in the update never
// overwrite non-nil persisted values, and CreatedAt is set only on insert.
type SectionStorage interface {
	UpsertSection(code, sectionID string, update models.SectionUpdate) error
	BulkUpsertSections(code string, updates []models.SectionUpsert) error
	GetSection(code, sectionID string) (*models.Section, error)
	ListSections(code string) ([]*models.Section, error)

	// ListPendingSections returns sections with no content and no
	// multi-version flag, in manifest (insertion) order
	ListPendingSections(code string) ([]*models.Section, error)

	// ListMultiVersionSections returns sections flagged multi-version
	ListMultiVersionSections(code string) ([]*models.Section, error)

	CountSections(code string) (int, error)
	CountHasContent(code string) (int, error)
	DeleteSections(code string) error
}

// ArchitectureStorage persists one CodeArchitecture document per code.
// Put is a whole-document replace except MultiVersionSections, which is
// merged additively.
type ArchitectureStorage interface {
	PutCodeArchitecture(arch *models.CodeArchitecture) error
	GetCodeArchitecture(code string) (*models.CodeArchitecture, error)
	AddMultiVersionSections(code string, sectionIDs []string) error
	MarkStageDone(code string, stage models.Stage) error
	DeleteCodeArchitecture(code string) error
}

// CheckpointStorage persists per-(code, stage) checkpoints atomically
type CheckpointStorage interface {
	SaveCheckpoint(cp *models.Checkpoint) error
	// LoadCheckpoint returns (nil, nil) when no checkpoint exists
	LoadCheckpoint(code string, stage models.Stage) (*models.Checkpoint, error)
	DeleteCheckpoints(code string) error
}

// FailureFilter narrows ListFailures results; zero values match everything
type FailureFilter struct {
	Type        models.FailureType
	Stage       models.Stage
	RetryStatus models.RetryStatus
	SectionID   string
	CurrentOnly bool // only the latest attempt per section
}

// FailureStorage persists the accreting failure log
type FailureStorage interface {
	LogFailure(record *models.FailureRecord) error
	ListFailures(code string, filter FailureFilter) ([]*models.FailureRecord, error)

	// LatestFailure returns the highest-attempt record for a section,
	// or (nil, nil) when the section never failed
	LatestFailure(code, sectionID string) (*models.FailureRecord, error)

	// NextAttemptNumber returns 1 + the highest recorded attempt
	NextAttemptNumber(code, sectionID string) (int, error)

	// UpdateRetryStatus transitions the latest record for a section and
	// appends the attempt to its retry trail when non-nil
	UpdateRetryStatus(code, sectionID string, status models.RetryStatus, attempt *models.RetryAttempt) error
}

// ReportStorage persists final run reports
type ReportStorage interface {
	SaveReport(report *models.RunReport) error
	ListReports(code string) ([]*models.RunReport, error)
}

// StorageManager aggregates the storage interfaces over one database
type StorageManager interface {
	SectionStorage() SectionStorage
	ArchitectureStorage() ArchitectureStorage
	CheckpointStorage() CheckpointStorage
	FailureStorage() FailureStorage
	ReportStorage() ReportStorage
	Close() error
}
