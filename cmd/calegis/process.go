package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
	"github.com/calegis/calegis/internal/services/pipeline"
	"github.com/calegis/calegis/internal/services/scraper"
)

// runProcess executes the full pipeline and maps the run outcome to the
// process exit code (0 complete, 1 degraded, 130 interrupted)
func runProcess(storage interfaces.StorageManager, code string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	static, rendered, cleanup := buildScrapers()
	defer cleanup()

	ctrl := pipeline.NewController(config, storage, static, rendered, logger)
	report, err := ctrl.Run(ctx, code, pipeline.Options{
		Resume:    *resume,
		SkipRetry: *skipRetry,
	})
	if err != nil {
		logger.Error().Err(err).Str("code", code).Msg("Pipeline failed")
		if ctx.Err() != nil {
			return models.ExitInterrupted
		}
		return models.ExitDegraded
	}

	return report.ExitCode
}

// buildScrapers wires the static scraper and, when a browser is usable,
// the rendered one. The pipeline runs without a browser, leaving
// multi-version sections flagged for a later run.
func buildScrapers() (interfaces.Scraper, interfaces.RenderedScraper, func()) {
	static := scraper.NewStaticScraper(config.Scraper, logger)

	pool := scraper.NewBrowserPool(config.MultiVersion, config.Scraper.UserAgent, logger)
	if err := pool.Init(); err != nil {
		logger.Warn().Err(err).Msg("Browser pool unavailable; multi-version sections will not be resolved this run")
		return static, nil, func() {}
	}

	rendered := scraper.NewChromeScraper(pool, config.Scraper.RequestTimeout, logger)
	return static, rendered, func() {
		if err := pool.Shutdown(); err != nil {
			logger.Warn().Err(err).Msg("Browser pool shutdown failed")
		}
	}
}
