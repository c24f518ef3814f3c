// Package multiversion implements Stage 3: resolving sections whose
// canonical page redirects to a version selector, using the rendered
// scraper to enumerate and fetch each alternative text.
package multiversion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
	"github.com/calegis/calegis/internal/services/parser"
	"github.com/calegis/calegis/internal/services/scraper"
)

// Result summarizes one multi-version run
type Result struct {
	Processed     int
	Succeeded     int
	Failed        int
	VersionsTotal int
	Interrupted   bool
}

// Service resolves multi-version sections one at a time. Sections run
// sequentially; each version gets a fresh rendered context, which avoids
// the session-state bleed a shared context exhibits on the selector flow.
type Service struct {
	scraper interfaces.RenderedScraper
	storage interfaces.StorageManager
	config  common.MultiVersionConfig
	logger  arbor.ILogger
}

// NewService creates a multi-version handler over a rendered scraper
func NewService(sc interfaces.RenderedScraper, storage interfaces.StorageManager, config common.MultiVersionConfig, logger arbor.ILogger) *Service {
	return &Service{
		scraper: sc,
		storage: storage,
		config:  config,
		logger:  logger,
	}
}

// Run fetches all versions of every flagged section of a code. Each
// section gets the configured per-section timeout; a timeout records a
// multi_version_timeout failure and the run moves on.
func (s *Service) Run(ctx context.Context, code string, resume bool) (*Result, error) {
	start := time.Now()
	result := &Result{}

	flagged, err := s.storage.SectionStorage().ListMultiVersionSections(code)
	if err != nil {
		return nil, fmt.Errorf("failed to list multi-version sections: %w", err)
	}

	cp, err := s.loadOrCreateCheckpoint(code, resume, len(flagged))
	if err != nil {
		return nil, err
	}

	if len(flagged) == 0 {
		cp.Status = models.CheckpointCompleted
		if err := s.storage.CheckpointStorage().SaveCheckpoint(cp); err != nil {
			return nil, fmt.Errorf("failed to finalize checkpoint: %w", err)
		}
		if err := s.storage.ArchitectureStorage().MarkStageDone(code, models.StageMultiVersion); err != nil {
			return nil, fmt.Errorf("failed to mark stage 3 done: %w", err)
		}
		return result, nil
	}

	s.logger.Info().
		Str("code", code).
		Int("sections", len(flagged)).
		Int("start_index", cp.CurrentBatch).
		Msg("Stage 3: resolving multi-version sections")

	for i := cp.CurrentBatch; i < len(flagged); i++ {
		if ctx.Err() != nil {
			return s.pause(cp, result, ctx.Err())
		}

		sec := flagged[i]
		// Sections resolved by an earlier run keep their versions
		if len(sec.Versions) == 0 {
			result.Processed++
			versions, err := s.ResolveSection(ctx, sec)
			if err != nil {
				result.Failed++
				s.logFailure(code, sec, err)
			} else {
				result.Succeeded++
				result.VersionsTotal += len(versions)
			}
		}

		cp.CurrentBatch = i + 1
		cp.ProcessedCount = i + 1
		cp.Status = models.CheckpointInProgress
		if err := s.storage.CheckpointStorage().SaveCheckpoint(cp); err != nil {
			return nil, fmt.Errorf("failed to save checkpoint: %w", err)
		}
	}

	cp.Status = models.CheckpointCompleted
	if err := s.storage.CheckpointStorage().SaveCheckpoint(cp); err != nil {
		return nil, fmt.Errorf("failed to finalize checkpoint: %w", err)
	}
	if err := s.storage.ArchitectureStorage().MarkStageDone(code, models.StageMultiVersion); err != nil {
		return nil, fmt.Errorf("failed to mark stage 3 done: %w", err)
	}

	s.logger.Info().
		Str("code", code).
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("versions_total", result.VersionsTotal).
		Float64("duration_sec", time.Since(start).Seconds()).
		Msg("Stage 3 complete")

	return result, nil
}

// ResolveSection resolves one flagged section: enumerate version links on
// the selector page, then fetch each version through a fresh context and
// persist the ordered result. Also used by the retry service.
func (s *Service) ResolveSection(ctx context.Context, sec *models.Section) ([]models.Version, error) {
	sectionCtx, cancel := context.WithTimeout(ctx, s.sectionTimeout())
	defer cancel()

	selector, err := s.scraper.FetchInteractive(sectionCtx, sec.URL, []interfaces.Action{
		{Type: interfaces.ActionWait, Duration: time.Second},
		{Type: interfaces.ActionExtractOnclickTargets},
	})
	if err != nil {
		return nil, err
	}

	if len(selector.OnclickTargets) == 0 {
		return nil, fmt.Errorf("no version links on selector page %s", sec.URL)
	}

	s.logger.Debug().
		Str("section", sec.SectionID).
		Int("versions", len(selector.OnclickTargets)).
		Msg("Version selector enumerated")

	versions := make([]models.Version, 0, len(selector.OnclickTargets))
	for _, target := range selector.OnclickTargets {
		v, err := s.fetchVersion(sectionCtx, sec, target)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}

	assignStatuses(versions)

	update := models.SectionUpdate{
		IsMultiVersion: models.BoolPtr(true),
		VersionNumber:  models.IntPtr(len(versions)),
		Versions:       versions,
	}
	if err := s.storage.SectionStorage().UpsertSection(sec.Code, sec.SectionID, update); err != nil {
		return nil, fmt.Errorf("failed to persist versions: %w", err)
	}

	return versions, nil
}

// fetchVersion clicks one version link in a fresh rendered context and
// parses the resulting page
func (s *Service) fetchVersion(ctx context.Context, sec *models.Section, onclickTarget string) (models.Version, error) {
	page, err := s.scraper.FetchInteractive(ctx, sec.URL, []interfaces.Action{
		{Type: interfaces.ActionWait, Duration: time.Second},
		{Type: interfaces.ActionClick, Selector: clickSelector(onclickTarget)},
		{Type: interfaces.ActionWait, Duration: time.Second},
	})
	if err != nil {
		return models.Version{}, err
	}

	parsed := parser.Parse(page.URL, page.HTML)
	if parsed.Content == "" {
		return models.Version{}, fmt.Errorf("version page yielded no content for %s", sec.SectionID)
	}

	return models.Version{
		Content:            parsed.Content,
		LegislativeHistory: parsed.LegislativeHistory,
		OperativeDate:      parser.ExtractOperativeDate(page.HTML),
		SourceURL:          sec.URL,
	}, nil
}

func (s *Service) sectionTimeout() time.Duration {
	if s.config.SectionTimeout > 0 {
		return s.config.SectionTimeout
	}
	return 90 * time.Second
}

func (s *Service) loadOrCreateCheckpoint(code string, resume bool, total int) (*models.Checkpoint, error) {
	if resume {
		cp, err := s.storage.CheckpointStorage().LoadCheckpoint(code, models.StageMultiVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if cp != nil && cp.Status != models.CheckpointCompleted {
			cp.TotalBatches = total
			return cp, nil
		}
	}
	return &models.Checkpoint{
		Code:         code,
		Stage:        models.StageMultiVersion,
		Status:       models.CheckpointInProgress,
		TotalBatches: total,
		WorkerCount:  1,
		StartedAt:    time.Now(),
	}, nil
}

func (s *Service) pause(cp *models.Checkpoint, result *Result, cause error) (*Result, error) {
	result.Interrupted = true
	cp.Status = models.CheckpointPaused
	if err := s.storage.CheckpointStorage().SaveCheckpoint(cp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save paused checkpoint")
	}
	return result, cause
}

func (s *Service) logFailure(code string, sec *models.Section, cause error) {
	record := &models.FailureRecord{
		Code:           code,
		SectionID:      sec.SectionID,
		URL:            sec.URL,
		FailureType:    scraper.Kind(cause),
		ErrorMessage:   cause.Error(),
		Stage:          models.StageMultiVersion,
		IsMultiVersion: true,
		FailedAt:       time.Now(),
	}
	if err := s.storage.FailureStorage().LogFailure(record); err != nil {
		s.logger.Error().Err(err).Str("section", sec.SectionID).Msg("Failed to log failure record")
	}

	s.logger.Warn().
		Str("code", code).
		Str("section", sec.SectionID).
		Str("type", string(record.FailureType)).
		Err(cause).
		Msg("Multi-version resolution failed")
}

// clickSelector targets the element carrying an exact onclick attribute;
// matching on the attribute survives selector pages without stable IDs
func clickSelector(onclickTarget string) string {
	escaped := strings.ReplaceAll(onclickTarget, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `[onclick="` + escaped + `"]`
}

// assignStatuses labels versions by operative date: dates in the future
// are future versions, the newest past date is current, older past dates
// are historical. Without any dates the first version is current.
func assignStatuses(versions []models.Version) {
	now := time.Now()
	currentIdx := -1
	var currentDate time.Time

	for i := range versions {
		date, ok := parseOperativeDate(versions[i].OperativeDate)
		if !ok {
			continue
		}
		if date.After(now) {
			versions[i].Status = models.VersionStatusFuture
			continue
		}
		versions[i].Status = models.VersionStatusHistorical
		if currentIdx < 0 || date.After(currentDate) {
			currentIdx = i
			currentDate = date
		}
	}

	if currentIdx >= 0 {
		versions[currentIdx].Status = models.VersionStatusCurrent
		return
	}

	// No parseable past dates; the selector lists the operative text first
	for i := range versions {
		if versions[i].Status == "" {
			versions[i].Status = models.VersionStatusCurrent
			break
		}
	}
	for i := range versions {
		if versions[i].Status == "" {
			versions[i].Status = models.VersionStatusHistorical
		}
	}
}

func parseOperativeDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("January 2, 2006", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
