package scraper

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/calegis/calegis/internal/interfaces"
)

// RetryPolicy defines per-request retry behavior with exponential backoff.
// The default ladder is 2s, 4s, 8s across three attempts.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
}

// NewRetryPolicy creates the default retry policy
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Backoff returns the wait before the given retry (attempt is 1-indexed,
// counting completed attempts): 2s after the first failure, then 4s, 8s
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= p.BackoffMultiplier
	}
	return time.Duration(backoff)
}

// FetchWithRetry runs a scraper fetch through the retry ladder. Permanent
// API errors fail immediately; retriable classes back off and re-attempt
// up to MaxAttempts.
func (p *RetryPolicy) FetchWithRetry(ctx context.Context, s interfaces.Scraper, url string, opts interfaces.FetchOptions, logger arbor.ILogger) (*interfaces.FetchResult, error) {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := s.Fetch(ctx, url, opts)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) {
			logger.Debug().
				Str("url", url).
				Int("attempt", attempt).
				Err(err).
				Msg("Permanent error, not retrying")
			return nil, err
		}

		if attempt < p.MaxAttempts {
			backoff := p.Backoff(attempt)
			logger.Debug().
				Str("url", url).
				Int("attempt", attempt).
				Str("backoff", backoff.String()).
				Err(err).
				Msg("Retrying after backoff")

			select {
			case <-ctx.Done():
				return nil, NewTimeoutError(url, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	logger.Warn().
		Str("url", url).
		Int("max_attempts", p.MaxAttempts).
		Err(lastErr).
		Msg("All retry attempts exhausted")

	return nil, lastErr
}
