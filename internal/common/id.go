package common

import (
	"github.com/google/uuid"
)

// NewSessionID generates a unique pipeline session ID
// Format: sess_<uuid>
func NewSessionID() string {
	return "sess_" + uuid.New().String()
}

// NewReportID generates a unique run report ID
// Format: report_<uuid>
func NewReportID() string {
	return "report_" + uuid.New().String()
}
