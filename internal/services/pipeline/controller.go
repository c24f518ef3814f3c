// Package pipeline sequences the processing stages for one code:
// discovery, extraction, multi-version resolution, reconciliation, and
// the failure-log retry pass, with signal-driven pause and resume.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
	"github.com/calegis/calegis/internal/services/discovery"
	"github.com/calegis/calegis/internal/services/extractor"
	"github.com/calegis/calegis/internal/services/failures"
	"github.com/calegis/calegis/internal/services/multiversion"
	"github.com/calegis/calegis/internal/services/reconcile"
)

// Options modifies a pipeline run
type Options struct {
	Resume    bool // keep prior data, load checkpoints
	SkipRetry bool // skip the post-stages failure-log retry pass
}

// Controller owns the stage sequence and the final report
type Controller struct {
	config   *common.Config
	storage  interfaces.StorageManager
	static   interfaces.Scraper
	rendered interfaces.RenderedScraper
	logger   arbor.ILogger
}

// NewController wires a pipeline over the shared scrapers and store.
// rendered may be nil; multi-version sections then stay flagged for a
// later run.
func NewController(config *common.Config, storage interfaces.StorageManager, static interfaces.Scraper, rendered interfaces.RenderedScraper, logger arbor.ILogger) *Controller {
	return &Controller{
		config:   config,
		storage:  storage,
		static:   static,
		rendered: rendered,
		logger:   logger,
	}
}

// Run executes the full pipeline for one code and writes the final
// report. Cancellation pauses the active stage; the report is written
// either way, with Interrupted set and exit code 130.
func (c *Controller) Run(ctx context.Context, code string, opts Options) (*models.RunReport, error) {
	sessionID := common.NewSessionID()
	start := time.Now()
	var timings []models.StageTiming
	interrupted := false

	c.logger.Info().
		Str("code", code).
		Str("session_id", sessionID).
		Bool("resume", opts.Resume).
		Msg("Pipeline starting")

	if !opts.Resume {
		if err := c.clearPriorData(code); err != nil {
			return nil, err
		}
	}

	runStage := func(stage models.Stage, fn func() error) error {
		if interrupted {
			return nil
		}
		stageStart := time.Now()
		err := fn()
		timings = append(timings, models.StageTiming{Stage: stage, Duration: time.Since(stageStart)})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				interrupted = true
				return nil
			}
			return fmt.Errorf("%s: %w", stage, err)
		}
		return nil
	}

	err := runStage(models.StageDiscovery, func() error {
		if opts.Resume && c.stage1Done(code) {
			c.logger.Info().Str("code", code).Msg("Stage 1 already complete, skipping")
			return nil
		}
		_, err := discovery.NewService(c.static, c.storage, c.config.Site, c.logger).Run(ctx, code, sessionID)
		return err
	})
	if err == nil {
		err = runStage(models.StageExtraction, func() error {
			svc := extractor.NewService(c.static, c.storage, c.config.Extractor, c.logger)
			svc.AddObserver(extractor.NewLogObserver(c.logger))
			_, runErr := svc.Run(ctx, code, opts.Resume)
			return runErr
		})
	}
	if err == nil && c.rendered != nil {
		err = runStage(models.StageMultiVersion, func() error {
			_, runErr := multiversion.NewService(c.rendered, c.storage, c.config.MultiVersion, c.logger).Run(ctx, code, opts.Resume)
			return runErr
		})
	}
	if err == nil {
		err = runStage(models.StageReconcile, func() error {
			svc := reconcile.NewService(c.static, c.rendered, c.storage, c.config.Extractor, c.config.MultiVersion, c.config.Reconcile.MaxAttempts, c.logger)
			_, runErr := svc.Run(ctx, code)
			return runErr
		})
	}
	if err == nil && c.retryEnabled(opts) {
		err = runStage(models.StageRetry, func() error {
			svc := c.retryService()
			_, runErr := svc.RetryAll(ctx, code, interfaces.FailureFilter{})
			return runErr
		})
	}
	if err != nil {
		return nil, err
	}

	report, buildErr := c.buildReport(code, sessionID, start, timings, interrupted)
	if buildErr != nil {
		return nil, buildErr
	}

	if err := c.storage.ReportStorage().SaveReport(report); err != nil {
		return nil, fmt.Errorf("failed to save run report: %w", err)
	}

	c.logger.Info().
		Str("code", code).
		Int("total_sections", report.TotalSections).
		Int("completed", report.CompletedSections).
		Int("failed", report.FailedSections).
		Str("success_rate", fmt.Sprintf("%.2f%%", report.SuccessRate*100)).
		Bool("interrupted", report.Interrupted).
		Int("exit_code", report.ExitCode).
		Msg("Pipeline finished")

	return report, nil
}

// RetryService builds the standalone retry service used by both the
// pipeline's final pass and the retry subcommand
func (c *Controller) retryService() *failures.Service {
	var resolver *multiversion.Service
	if c.rendered != nil {
		resolver = multiversion.NewService(c.rendered, c.storage, c.config.MultiVersion, c.logger)
	}
	return failures.NewService(c.static, resolver, c.storage, c.config.Extractor, c.logger)
}

// RetryFailures exposes a one-shot failure-log retry pass for a code,
// optionally narrowed by the filter
func (c *Controller) RetryFailures(ctx context.Context, code string, filter interfaces.FailureFilter) (*failures.RetryResult, error) {
	return c.retryService().RetryAll(ctx, code, filter)
}

// RetrySection replays one failed section from the failure log
func (c *Controller) RetrySection(ctx context.Context, code, sectionID string) (bool, error) {
	return c.retryService().Retry(ctx, code, sectionID)
}

// AbandonSection permanently gives up on a failed section
func (c *Controller) AbandonSection(code, sectionID, reason string) error {
	return c.retryService().Abandon(code, sectionID, reason)
}

// RetryScheduler builds a standing cron scheduler over the retry service
func (c *Controller) RetryScheduler() *failures.Scheduler {
	return failures.NewScheduler(c.retryService(), c.logger)
}

func (c *Controller) retryEnabled(opts Options) bool {
	return c.config.Retry.Enabled && !opts.SkipRetry
}

func (c *Controller) stage1Done(code string) bool {
	arch, err := c.storage.ArchitectureStorage().GetCodeArchitecture(code)
	return err == nil && arch.StageFlags.Stage1Done
}

// clearPriorData removes sections, checkpoints, and the architecture for
// a fresh run. The failure log accretes across runs and is kept.
func (c *Controller) clearPriorData(code string) error {
	c.logger.Info().Str("code", code).Msg("Clearing prior data for fresh run")

	if err := c.storage.SectionStorage().DeleteSections(code); err != nil {
		return fmt.Errorf("failed to clear sections: %w", err)
	}
	if err := c.storage.CheckpointStorage().DeleteCheckpoints(code); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	if err := c.storage.ArchitectureStorage().DeleteCodeArchitecture(code); err != nil {
		return fmt.Errorf("failed to clear architecture: %w", err)
	}
	return nil
}
