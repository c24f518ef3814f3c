package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
	"github.com/calegis/calegis/internal/services/pipeline"
)

// runRetry drives the failure-log retry service: a single section
// (-section), a filtered sweep (-type), an abandon (-abandon), or a
// standing scheduler (-watch)
func runRetry(storage interfaces.StorageManager, code string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	static, rendered, cleanup := buildScrapers()
	defer cleanup()

	ctrl := pipeline.NewController(config, storage, static, rendered, logger)

	if *abandonReason != "" {
		if *retrySection == "" {
			logger.Error().Msg("-abandon requires -section")
			return 2
		}
		if err := ctrl.AbandonSection(code, *retrySection, *abandonReason); err != nil {
			logger.Error().Err(err).Str("section", *retrySection).Msg("Abandon failed")
			return 1
		}
		fmt.Printf("Section %s abandoned\n", *retrySection)
		return 0
	}

	if *retrySection != "" {
		ok, err := ctrl.RetrySection(ctx, code, *retrySection)
		if err != nil {
			logger.Error().Err(err).Str("section", *retrySection).Msg("Retry failed")
			return 1
		}
		if !ok {
			fmt.Printf("Section %s still failing\n", *retrySection)
			return 1
		}
		fmt.Printf("Section %s recovered\n", *retrySection)
		return 0
	}

	if *watch {
		if config.Retry.Schedule == "" {
			logger.Error().Msg("-watch requires retry.schedule in the configuration")
			return 2
		}
		scheduler := ctrl.RetryScheduler()
		if err := scheduler.Start(ctx, code, config.Retry.Schedule); err != nil {
			logger.Error().Err(err).Msg("Failed to start retry scheduler")
			return 1
		}
		<-ctx.Done()
		scheduler.Stop()
		return 0
	}

	filter := interfaces.FailureFilter{Type: models.FailureType(*retryType)}
	result, err := ctrl.RetryFailures(ctx, code, filter)
	if err != nil {
		logger.Error().Err(err).Str("code", code).Msg("Retry pass failed")
		if ctx.Err() != nil {
			return models.ExitInterrupted
		}
		return 1
	}

	fmt.Printf("Retry pass: %d attempted, %d succeeded, %d failed, %d skipped\n",
		result.Attempted, result.Succeeded, result.Failed, result.Skipped)
	if result.Failed > 0 {
		return 1
	}
	return 0
}
