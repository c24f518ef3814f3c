package failures

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
	"github.com/calegis/calegis/internal/services/multiversion"
	"github.com/calegis/calegis/internal/services/parser"
	"github.com/calegis/calegis/internal/services/scraper"
)

// RetryResult summarizes a retry sweep
type RetryResult struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
}

// Service replays failed sections from the failure log. A retry succeeds
// iff it leaves the section satisfying HasContent or versions non-empty.
type Service struct {
	static   interfaces.Scraper
	resolver *multiversion.Service
	storage  interfaces.StorageManager
	config   common.ExtractorConfig
	retry    *scraper.RetryPolicy
	logger   arbor.ILogger
}

// NewService creates the retry service. resolver may be nil when no
// rendered scraper is available; multi-version failures are then skipped.
func NewService(static interfaces.Scraper, resolver *multiversion.Service, storage interfaces.StorageManager, config common.ExtractorConfig, logger arbor.ILogger) *Service {
	return &Service{
		static:   static,
		resolver: resolver,
		storage:  storage,
		config:   config,
		retry: &scraper.RetryPolicy{
			MaxAttempts:       config.MaxAttempts,
			InitialBackoff:    2 * time.Second,
			BackoffMultiplier: 2.0,
		},
		logger: logger,
	}
}

// Retry replays a single failed section. It returns true when the
// section is complete afterwards. Abandoned and repealed failures are
// not retried.
func (s *Service) Retry(ctx context.Context, code, sectionID string) (bool, error) {
	record, err := s.storage.FailureStorage().LatestFailure(code, sectionID)
	if err != nil {
		return false, fmt.Errorf("failed to load failure record: %w", err)
	}
	if record == nil {
		return false, fmt.Errorf("no failure recorded for %s/%s", code, sectionID)
	}
	if record.RetryStatus == models.RetryAbandoned || !record.FailureType.Retriable() {
		return false, fmt.Errorf("failure for %s/%s is %s and cannot be retried", code, sectionID, record.RetryStatus)
	}

	sec, err := s.storage.SectionStorage().GetSection(code, sectionID)
	if err != nil {
		return false, err
	}
	if sec.IsComplete() {
		// Resolved by a later stage; close the record
		return true, s.storage.FailureStorage().UpdateRetryStatus(code, sectionID, models.RetrySucceeded, &models.RetryAttempt{
			Timestamp: time.Now(),
			Success:   true,
			Details:   "section already complete",
		})
	}

	if err := s.storage.FailureStorage().UpdateRetryStatus(code, sectionID, models.RetryRetrying, nil); err != nil {
		return false, err
	}

	retryErr := s.replay(ctx, sec, record)

	attempt := &models.RetryAttempt{Timestamp: time.Now(), Success: retryErr == nil}
	status := models.RetrySucceeded
	if retryErr != nil {
		attempt.Details = retryErr.Error()
		status = models.RetryFailed
	}
	if err := s.storage.FailureStorage().UpdateRetryStatus(code, sectionID, status, attempt); err != nil {
		return false, err
	}

	if retryErr != nil {
		s.logger.Warn().
			Str("code", code).
			Str("section", sectionID).
			Err(retryErr).
			Msg("Retry failed")
		return false, nil
	}

	s.logger.Info().Str("code", code).Str("section", sectionID).Msg("Retry succeeded")
	return true, nil
}

// RetryAll replays every failure matching the filter, one section at a
// time, newest record per section
func (s *Service) RetryAll(ctx context.Context, code string, filter interfaces.FailureFilter) (*RetryResult, error) {
	filter.CurrentOnly = true
	records, err := s.storage.FailureStorage().ListFailures(code, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}

	result := &RetryResult{}
	for _, record := range records {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if record.RetryStatus == models.RetrySucceeded ||
			record.RetryStatus == models.RetryAbandoned ||
			!record.FailureType.Retriable() {
			result.Skipped++
			continue
		}

		result.Attempted++
		ok, err := s.Retry(ctx, code, record.SectionID)
		if err != nil {
			s.logger.Warn().Err(err).Str("section", record.SectionID).Msg("Retry errored")
			result.Failed++
			continue
		}
		if ok {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	s.logger.Info().
		Str("code", code).
		Int("attempted", result.Attempted).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("Failure retry pass complete")

	return result, nil
}

// Abandon marks a section's failure as permanently given up
func (s *Service) Abandon(code, sectionID, reason string) error {
	return s.storage.FailureStorage().UpdateRetryStatus(code, sectionID, models.RetryAbandoned, &models.RetryAttempt{
		Timestamp: time.Now(),
		Success:   false,
		Details:   reason,
	})
}

// replay re-runs the extraction path appropriate to the failure
func (s *Service) replay(ctx context.Context, sec *models.Section, record *models.FailureRecord) error {
	if sec.IsMultiVersion || record.IsMultiVersion {
		if s.resolver == nil {
			return fmt.Errorf("multi-version retry requires the rendered scraper")
		}
		_, err := s.resolver.ResolveSection(ctx, sec)
		return err
	}

	fetched, err := s.retry.FetchWithRetry(ctx, s.static, sec.URL, interfaces.FetchOptions{Timeout: s.config.RequestTimeout}, s.logger)
	if err != nil {
		return err
	}

	pageURL := fetched.FinalURL
	if pageURL == "" {
		pageURL = fetched.URL
	}
	parsed := parser.Parse(pageURL, fetched.HTML)

	if parsed.IsMultiVersion {
		if err := s.storage.SectionStorage().UpsertSection(sec.Code, sec.SectionID, models.SectionUpdate{
			IsMultiVersion: models.BoolPtr(true),
		}); err != nil {
			return err
		}
		if err := s.storage.ArchitectureStorage().AddMultiVersionSections(sec.Code, []string{sec.SectionID}); err != nil {
			return err
		}
		if s.resolver == nil {
			return fmt.Errorf("section turned multi-version; rendered scraper unavailable")
		}
		sec.IsMultiVersion = true
		_, err := s.resolver.ResolveSection(ctx, sec)
		return err
	}

	if parsed.Empty {
		return fmt.Errorf("page still yields no content")
	}

	update := models.SectionUpdate{
		Content:    models.StrPtr(parsed.Content),
		RawContent: models.StrPtr(fetched.Markdown),
		IsCurrent:  models.BoolPtr(true),
	}
	if parsed.LegislativeHistory != "" {
		update.LegislativeHistory = models.StrPtr(parsed.LegislativeHistory)
	}
	return s.storage.SectionStorage().UpsertSection(sec.Code, sec.SectionID, update)
}
