package scraper

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/calegis/calegis/internal/models"
)

func TestKindClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.FailureType
	}{
		{"nil", nil, ""},
		{"network", NewNetworkError("http://x", errors.New("refused")), models.FailureNetworkError},
		{"timeout", NewTimeoutError("http://x", context.DeadlineExceeded), models.FailureTimeout},
		{"api", NewAPIError("http://x", 503), models.FailureAPIError},
		{"parse", NewParseError("http://x", errors.New("bad html")), models.FailureParseError},
		{"wrapped tagged", fmt.Errorf("fetch: %w", NewAPIError("http://x", 500)), models.FailureAPIError},
		{"bare deadline", context.DeadlineExceeded, models.FailureTimeout},
		{"bare cancel", context.Canceled, models.FailureTimeout},
		{"unknown", errors.New("something broke"), models.FailureNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(NewAPIError("http://x", 404)))
	assert.True(t, IsPermanent(NewAPIError("http://x", 403)))

	// Request-timeout and rate-limit responses are worth retrying
	assert.False(t, IsPermanent(NewAPIError("http://x", 408)))
	assert.False(t, IsPermanent(NewAPIError("http://x", 429)))

	assert.False(t, IsPermanent(NewAPIError("http://x", 500)))
	assert.False(t, IsPermanent(NewNetworkError("http://x", errors.New("refused"))))
	assert.False(t, IsPermanent(errors.New("untagged")))
}

func TestErrorMessageCarriesContext(t *testing.T) {
	err := NewAPIError("http://example.test/sec", 404)
	assert.Contains(t, err.Error(), "api_error")
	assert.Contains(t, err.Error(), "404")

	wrapped := NewNetworkError("http://example.test/sec", errors.New("connection refused"))
	assert.Contains(t, wrapped.Error(), "connection refused")
	assert.Equal(t, "connection refused", errors.Unwrap(wrapped).Error())
}
