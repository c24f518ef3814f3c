package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/calegis/calegis/internal/models"
)

// Error is the tagged scraper error. Kind carries the failure taxonomy;
// the remaining fields give the structured context (url, attempt, status).
type Error struct {
	Kind       models.FailureType
	URL        string
	StatusCode int
	Attempt    int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.URL, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewNetworkError wraps a transport/socket/SSL failure
func NewNetworkError(url string, err error) *Error {
	return &Error{Kind: models.FailureNetworkError, URL: url, Err: err}
}

// NewTimeoutError wraps a fetch that did not complete within its deadline
func NewTimeoutError(url string, err error) *Error {
	return &Error{Kind: models.FailureTimeout, URL: url, Err: err}
}

// NewAPIError wraps an upstream HTTP 4xx/5xx response
func NewAPIError(url string, statusCode int) *Error {
	return &Error{Kind: models.FailureAPIError, URL: url, StatusCode: statusCode}
}

// NewParseError wraps a failure to interpret a fetched response
func NewParseError(url string, err error) *Error {
	return &Error{Kind: models.FailureParseError, URL: url, Err: err}
}

// Kind maps any error surfaced by a scraper to exactly one failure type.
// Unknown errors classify as network_error, the broadest retriable class.
func Kind(err error) models.FailureType {
	if err == nil {
		return ""
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return models.FailureTimeout
		}
		return models.FailureNetworkError
	}

	return models.FailureNetworkError
}

// IsPermanent reports whether an error should not be retried: client-side
// HTTP errors other than request-timeout and rate-limit
func IsPermanent(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Kind != models.FailureAPIError {
		return false
	}
	code := se.StatusCode
	return code >= 400 && code < 500 && code != 408 && code != 429
}
