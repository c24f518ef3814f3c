// Package reconcile implements the post-stage gap sweep: find sections
// the pipeline left incomplete and re-run extraction over them with
// reduced fan-out.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
	"github.com/calegis/calegis/internal/services/extractor"
	"github.com/calegis/calegis/internal/services/multiversion"
)

// Result summarizes the reconciliation sweeps
type Result struct {
	Attempts        int
	InitialMissing  int
	ResolvedMissing int
	FinalMissing    int
	Interrupted     bool
}

// Service runs bounded reconciliation passes. High failure density tends
// to correlate with transient overload, so each pass halves the worker
// count (floor 1) before re-extracting the missing set.
type Service struct {
	static      interfaces.Scraper
	rendered    interfaces.RenderedScraper
	storage     interfaces.StorageManager
	extractCfg  common.ExtractorConfig
	mvCfg       common.MultiVersionConfig
	maxAttempts int
	logger      arbor.ILogger
}

// NewService creates a reconciliation service
func NewService(static interfaces.Scraper, rendered interfaces.RenderedScraper, storage interfaces.StorageManager, extractCfg common.ExtractorConfig, mvCfg common.MultiVersionConfig, maxAttempts int, logger arbor.ILogger) *Service {
	return &Service{
		static:      static,
		rendered:    rendered,
		storage:     storage,
		extractCfg:  extractCfg,
		mvCfg:       mvCfg,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Run sweeps the store for incomplete sections and re-extracts them, up
// to the configured number of passes. The extraction loop itself skips
// complete sections, so each pass is naturally restricted to the gaps.
func (s *Service) Run(ctx context.Context, code string) (*Result, error) {
	start := time.Now()
	result := &Result{}

	missing, multiMissing, err := s.missingSections(code)
	if err != nil {
		return nil, err
	}
	result.InitialMissing = missing + multiMissing

	if result.InitialMissing == 0 {
		s.logger.Info().Str("code", code).Msg("Reconciliation: no gaps found")
		return result, nil
	}

	workers := s.extractCfg.WorkerCount

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			result.Interrupted = true
			return result, ctx.Err()
		}

		workers = halve(workers)

		s.logger.Info().
			Str("code", code).
			Int("attempt", attempt).
			Int("max_attempts", s.maxAttempts).
			Int("missing", missing).
			Int("multi_version_missing", multiMissing).
			Int("workers", workers).
			Msg("Reconciliation pass starting")

		if missing > 0 {
			cfg := s.extractCfg
			cfg.WorkerCount = workers
			ext := extractor.NewService(s.static, s.storage, cfg, s.logger).
				WithStage(models.StageReconcile)
			if _, err := ext.Run(ctx, code, false); err != nil {
				if ctx.Err() != nil {
					result.Interrupted = true
					return result, err
				}
				return nil, fmt.Errorf("reconciliation extraction pass %d: %w", attempt, err)
			}
		}

		if multiMissing > 0 && s.rendered != nil {
			mv := multiversion.NewService(s.rendered, s.storage, s.mvCfg, s.logger)
			if _, err := mv.Run(ctx, code, false); err != nil {
				if ctx.Err() != nil {
					result.Interrupted = true
					return result, err
				}
				return nil, fmt.Errorf("reconciliation multi-version pass %d: %w", attempt, err)
			}
		}

		result.Attempts = attempt

		missing, multiMissing, err = s.missingSections(code)
		if err != nil {
			return nil, err
		}
		if missing+multiMissing == 0 {
			break
		}
	}

	result.FinalMissing = missing + multiMissing
	result.ResolvedMissing = result.InitialMissing - result.FinalMissing

	s.logger.Info().
		Str("code", code).
		Int("attempts", result.Attempts).
		Int("initial_missing", result.InitialMissing).
		Int("resolved", result.ResolvedMissing).
		Int("final_missing", result.FinalMissing).
		Float64("duration_sec", time.Since(start).Seconds()).
		Msg("Reconciliation complete")

	return result, nil
}

// missingSections counts the gaps: plain leaves without content, and
// multi-version leaves without versions
func (s *Service) missingSections(code string) (missing, multiMissing int, err error) {
	pending, err := s.storage.SectionStorage().ListPendingSections(code)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list pending sections: %w", err)
	}

	flagged, err := s.storage.SectionStorage().ListMultiVersionSections(code)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list multi-version sections: %w", err)
	}
	for _, sec := range flagged {
		if len(sec.Versions) == 0 {
			multiMissing++
		}
	}

	return len(pending), multiMissing, nil
}

func halve(workers int) int {
	workers /= 2
	if workers < 1 {
		return 1
	}
	return workers
}
