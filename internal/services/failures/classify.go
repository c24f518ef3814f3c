// Package failures maintains the failure log: classifying failed
// extractions, recording them, and driving targeted retries.
package failures

import (
	"regexp"

	"github.com/calegis/calegis/internal/models"
	"github.com/calegis/calegis/internal/services/parser"
	"github.com/calegis/calegis/internal/services/scraper"
)

// Fetch errors classify through the scraper error taxonomy
func ClassifyFetchError(err error) models.FailureType {
	return scraper.Kind(err)
}

// Repealed sections keep a stub page whose history cites the repealing
// statute. The body itself is empty, so the citation is the signal.
var repealedRe = regexp.MustCompile(`(?i)\bRepealed\b`)

// ClassifyEmpty decides why a fetched page yielded no content: a repealed
// section (terminal, never retried) or genuinely empty content (retriable
// once via reconciliation)
func ClassifyEmpty(result parser.Result, html string) models.FailureType {
	if repealedRe.MatchString(result.LegislativeHistory) {
		return models.FailureRepealed
	}
	// Some repealed stubs carry the notice outside italic markup
	if m := parentheticalRepealed(html); m {
		return models.FailureRepealed
	}
	return models.FailureEmptyContent
}

var repealedNoticeRe = regexp.MustCompile(`(?i)Repealed by Stats\.`)

func parentheticalRepealed(html string) bool {
	return repealedNoticeRe.MatchString(html)
}
