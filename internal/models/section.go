package models

import (
	"fmt"
	"time"
)

// VersionStatus describes the operative state of a single section version
type VersionStatus string

const (
	VersionStatusCurrent    VersionStatus = "current"
	VersionStatusFuture     VersionStatus = "future"
	VersionStatusHistorical VersionStatus = "historical"
)

// Version is one alternative text of a multi-version section.
// Order within Section.Versions follows the selector page's native order.
type Version struct {
	OperativeDate      string        `json:"operative_date,omitempty"`
	Content            string        `json:"content,omitempty"`
	LegislativeHistory string        `json:"legislative_history,omitempty"`
	Status             VersionStatus `json:"status"`
	SourceURL          string        `json:"source_url"`
}

// Section represents one statutory section (a leaf of the code tree).
// Keyed by (Code, SectionID); ID is the composite storage key.
type Section struct {
	ID        string `json:"id"` // <code>:<section_id>
	Code      string `json:"code"`
	SectionID string `json:"section_id"`
	URL       string `json:"url"`

	Content            string `json:"content,omitempty"`
	RawContent         string `json:"raw_content,omitempty"`
	LegislativeHistory string `json:"legislative_history,omitempty"`
	ContentLength      int    `json:"content_length"`

	IsMultiVersion bool      `json:"is_multi_version"`
	VersionNumber  int       `json:"version_number,omitempty"`
	IsCurrent      bool      `json:"is_current"`
	Versions       []Version `json:"versions,omitempty"`

	// Seq is the section's position in the discovery manifest; it fixes
	// the batch partition order across runs
	Seq int `json:"seq"`

	// Hierarchy tags; any may be empty when the level is absent
	Division string `json:"division,omitempty"`
	Part     string `json:"part,omitempty"`
	Title    string `json:"title,omitempty"`
	Chapter  string `json:"chapter,omitempty"`
	Article  string `json:"article,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SectionKey builds the composite storage key for a section
func SectionKey(code, sectionID string) string {
	return fmt.Sprintf("%s:%s", code, sectionID)
}

// HasContent reports whether the section carries extracted body text
func (s *Section) HasContent() bool {
	return s.Content != "" && s.ContentLength > 0
}

// IsComplete reports whether the section needs no further extraction:
// either it has content, or it is multi-version with at least one version
func (s *Section) IsComplete() bool {
	if s.IsMultiVersion {
		return len(s.Versions) > 0
	}
	return s.HasContent()
}

// SectionUpdate is a sparse field set for UpsertSection. Nil pointers mean
// "leave the persisted value alone"; non-nil pointers are written. This is
// the mechanism that keeps a Stage 1 re-run (URL only) from erasing content
// extracted by Stage 2.
type SectionUpdate struct {
	URL                *string
	Content            *string
	RawContent         *string
	LegislativeHistory *string
	IsMultiVersion     *bool
	VersionNumber      *int
	IsCurrent          *bool
	Versions           []Version // nil = keep, non-nil (incl. empty) = replace
	Seq                *int
	Division           *string
	Part               *string
	Title              *string
	Chapter            *string
	Article            *string
}

// SectionUpsert pairs a section ID with its sparse update for bulk writes
type SectionUpsert struct {
	SectionID string
	Update    SectionUpdate
}

// StrPtr is a convenience for building sparse updates
func StrPtr(s string) *string { return &s }

// BoolPtr is a convenience for building sparse updates
func BoolPtr(b bool) *bool { return &b }

// IntPtr is a convenience for building sparse updates
func IntPtr(i int) *int { return &i }
