package models

import (
	"fmt"
	"time"
)

// FailureType classifies why a leaf extraction failed
type FailureType string

const (
	FailureAPIError            FailureType = "api_error"
	FailureTimeout             FailureType = "timeout"
	FailureParseError          FailureType = "parse_error"
	FailureEmptyContent        FailureType = "empty_content"
	FailureNetworkError        FailureType = "network_error"
	FailureMultiVersionTimeout FailureType = "multi_version_timeout"
	FailureRepealed            FailureType = "repealed"
)

// Retriable reports whether a failure type is worth re-attempting.
// empty_content is retriable once; callers enforce the attempt cap.
func (t FailureType) Retriable() bool {
	return t != FailureRepealed
}

// RetryStatus is the current-status view of a failed section
type RetryStatus string

const (
	RetryPending   RetryStatus = "pending"
	RetryRetrying  RetryStatus = "retrying"
	RetrySucceeded RetryStatus = "succeeded"
	RetryFailed    RetryStatus = "failed"
	RetryAbandoned RetryStatus = "abandoned"
)

// RetryAttempt is one entry in a failure record's retry trail
type RetryAttempt struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Details   string    `json:"details,omitempty"`
}

// FailureRecord is the persisted record of one failed extraction attempt.
// Keyed by (Code, SectionID, AttemptNumber); records accrete and are never
// deleted, only transitioned. RetryStatus = succeeded implies the section
// now satisfies HasContent or IsMultiVersion with versions.
type FailureRecord struct {
	ID             string         `json:"id"` // <code>:<section_id>:<attempt>
	Code           string         `json:"code"`
	SectionID      string         `json:"section_id"`
	AttemptNumber  int            `json:"attempt_number"`
	URL            string         `json:"url"`
	FailureType    FailureType    `json:"failure_type"`
	ErrorMessage   string         `json:"error_message"`
	Stage          Stage          `json:"stage"`
	BatchNumber    int            `json:"batch_number"`
	IsMultiVersion bool           `json:"is_multi_version"`
	RetryStatus    RetryStatus    `json:"retry_status"`
	RetryAttempts  []RetryAttempt `json:"retry_attempts,omitempty"`
	FailedAt       time.Time      `json:"failed_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// FailureKey builds the composite storage key for a failure record
func FailureKey(code, sectionID string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", code, sectionID, attempt)
}
