package failures

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
)

// Scheduler runs standing retry passes on a cron schedule. Used by the
// retry watch mode to drain the failure log over time without re-running
// the whole pipeline.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	logger  arbor.ILogger
}

// NewScheduler creates a stopped scheduler around the retry service
func NewScheduler(service *Service, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		service: service,
		logger:  logger,
	}
}

// Start registers the retry pass for a code and starts the cron loop
func (s *Scheduler) Start(ctx context.Context, code, schedule string) error {
	if err := common.ValidateRetrySchedule(schedule); err != nil {
		return err
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.logger.Info().Str("code", code).Msg("Scheduled retry pass starting")
		if _, err := s.service.RetryAll(ctx, code, interfaces.FailureFilter{}); err != nil {
			s.logger.Error().Err(err).Str("code", code).Msg("Scheduled retry pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retry pass: %w", err)
	}

	s.cron.Start()
	s.logger.Info().Str("code", code).Str("schedule", schedule).Msg("Retry scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running pass to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Retry scheduler stopped")
}
