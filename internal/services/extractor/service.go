// Package extractor implements Stage 2: concurrent batch extraction of
// section content with durable checkpoints.
package extractor

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
	"github.com/calegis/calegis/internal/services/failures"
	"github.com/calegis/calegis/internal/services/parser"
	"github.com/calegis/calegis/internal/services/scraper"
)

// Result summarizes one extraction run
type Result struct {
	Processed    int
	Succeeded    int
	Failed       int
	MultiVersion int
	Interrupted  bool
}

// Service drives the batched extraction loop for one code
type Service struct {
	scraper   interfaces.Scraper
	storage   interfaces.StorageManager
	config    common.ExtractorConfig
	stage     models.Stage
	retry     *scraper.RetryPolicy
	observers []interfaces.ProgressObserver
	logger    arbor.ILogger
}

// NewService creates an extraction service using the static scraper
func NewService(sc interfaces.Scraper, storage interfaces.StorageManager, config common.ExtractorConfig, logger arbor.ILogger) *Service {
	return &Service{
		scraper: sc,
		storage: storage,
		config:  config,
		stage:   models.StageExtraction,
		retry: &scraper.RetryPolicy{
			MaxAttempts:       config.MaxAttempts,
			InitialBackoff:    2 * time.Second,
			BackoffMultiplier: 2.0,
		},
		logger: logger,
	}
}

// AddObserver registers a progress observer; observers receive one event
// per completed batch
func (s *Service) AddObserver(o interfaces.ProgressObserver) {
	s.observers = append(s.observers, o)
}

// WithStage relabels the checkpoint stage; reconciliation passes run the
// same loop under their own checkpoint
func (s *Service) WithStage(stage models.Stage) *Service {
	s.stage = stage
	return s
}

// Run extracts content for every incomplete section of a code.
//
// The worklist is the full section list in manifest order, partitioned
// into fixed batches, so batch numbering is stable across runs. A resume
// skips batches up to the checkpoint's CurrentBatch; within a batch,
// sections that are already complete are skipped, which makes re-running
// any batch idempotent. The checkpoint is written only after the batch's
// section writes.
func (s *Service) Run(ctx context.Context, code string, resume bool) (*Result, error) {
	start := time.Now()
	result := &Result{}

	sections, err := s.storage.SectionStorage().ListSections(code)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no sections discovered for code %s; run discovery first", code)
	}

	batches := partition(sections, s.config.BatchSize)

	cp, err := s.loadOrCreateCheckpoint(code, resume, len(batches))
	if err != nil {
		return nil, err
	}
	startBatch := cp.CurrentBatch + 1

	s.logger.Info().
		Str("code", code).
		Int("sections", len(sections)).
		Int("batches", len(batches)).
		Int("start_batch", startBatch).
		Int("workers", s.config.WorkerCount).
		Msg("Stage 2: extracting section content")

	for n := startBatch; n <= len(batches); n++ {
		if ctx.Err() != nil {
			return s.pause(cp, result, ctx.Err())
		}

		batchStart := time.Now()
		outcome := s.processBatch(ctx, code, n, batches[n-1])

		result.Processed += outcome.processed
		result.Succeeded += outcome.succeeded
		result.Failed += len(outcome.failedIDs)
		result.MultiVersion += len(outcome.multiVersionIDs)

		if len(outcome.multiVersionIDs) > 0 {
			if err := s.storage.ArchitectureStorage().AddMultiVersionSections(code, outcome.multiVersionIDs); err != nil {
				return nil, s.fail(cp, fmt.Errorf("failed to record multi-version sections: %w", err))
			}
		}

		cp.CurrentBatch = n
		cp.ProcessedCount += outcome.processed
		cp.AddFailedSections(outcome.failedIDs)
		cp.Status = models.CheckpointInProgress
		if err := s.storage.CheckpointStorage().SaveCheckpoint(cp); err != nil {
			return nil, s.fail(cp, fmt.Errorf("failed to save checkpoint: %w", err))
		}

		s.emitProgress(code, n, len(batches), result, start, time.Since(batchStart))

		// A cancellation that arrived mid-batch pauses here, after the
		// batch's writes and checkpoint are durable
		if ctx.Err() != nil {
			return s.pause(cp, result, ctx.Err())
		}
	}

	cp.Status = models.CheckpointCompleted
	if err := s.storage.CheckpointStorage().SaveCheckpoint(cp); err != nil {
		return nil, s.fail(cp, fmt.Errorf("failed to finalize checkpoint: %w", err))
	}
	if s.stage == models.StageExtraction {
		if err := s.storage.ArchitectureStorage().MarkStageDone(code, models.StageExtraction); err != nil {
			return nil, s.fail(cp, fmt.Errorf("failed to mark stage 2 done: %w", err))
		}
	}

	s.logger.Info().
		Str("code", code).
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("multi_version", result.MultiVersion).
		Float64("duration_sec", time.Since(start).Seconds()).
		Msg("Stage 2 complete")

	return result, nil
}

func (s *Service) loadOrCreateCheckpoint(code string, resume bool, totalBatches int) (*models.Checkpoint, error) {
	if resume {
		cp, err := s.storage.CheckpointStorage().LoadCheckpoint(code, s.stage)
		if err != nil {
			return nil, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if cp != nil && cp.Status != models.CheckpointCompleted {
			s.logger.Info().
				Str("code", code).
				Int("current_batch", cp.CurrentBatch).
				Int("total_batches", cp.TotalBatches).
				Msg("Resuming from checkpoint")
			cp.TotalBatches = totalBatches
			cp.WorkerCount = s.config.WorkerCount
			return cp, nil
		}
	}

	return &models.Checkpoint{
		Code:         code,
		Stage:        s.stage,
		Status:       models.CheckpointInProgress,
		CurrentBatch: 0,
		TotalBatches: totalBatches,
		WorkerCount:  s.config.WorkerCount,
		StartedAt:    time.Now(),
	}, nil
}

// fail records a store-level fatal error on the checkpoint before the
// run aborts, so status surfaces the failure instead of a stale
// in_progress
func (s *Service) fail(cp *models.Checkpoint, cause error) error {
	cp.Status = models.CheckpointFailed
	cp.Error = cause.Error()
	if err := s.storage.CheckpointStorage().SaveCheckpoint(cp); err != nil {
		s.logger.Error().Err(err).Str("code", cp.Code).Msg("Failed to persist failed checkpoint")
	}
	return cause
}

func (s *Service) pause(cp *models.Checkpoint, result *Result, cause error) (*Result, error) {
	result.Interrupted = true
	cp.Status = models.CheckpointPaused
	if err := s.storage.CheckpointStorage().SaveCheckpoint(cp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save paused checkpoint")
	}
	s.logger.Warn().
		Str("code", cp.Code).
		Int("current_batch", cp.CurrentBatch).
		Msg("Extraction paused; resume with --resume")
	return result, cause
}

type batchOutcome struct {
	processed       int
	succeeded       int
	failedIDs       []string
	multiVersionIDs []string
}

// processBatch fetches one batch concurrently, retries retriable failures
// through the backoff ladder, and persists results. Individual failures
// are logged and never abort the batch.
func (s *Service) processBatch(ctx context.Context, code string, batchNumber int, batch []*models.Section) batchOutcome {
	var outcome batchOutcome

	pending := make([]*models.Section, 0, len(batch))
	for _, sec := range batch {
		if sec.IsComplete() {
			continue
		}
		pending = append(pending, sec)
	}
	if len(pending) == 0 {
		return outcome
	}

	urls := make([]string, 0, len(pending))
	for _, sec := range pending {
		urls = append(urls, sec.URL)
	}

	// First sweep: the whole batch in parallel. The scraper applies the
	// hang deadline (2x the request timeout) per fetch.
	results := s.scraper.FetchBatch(ctx, urls, s.config.WorkerCount, s.config.RequestTimeout)

	for _, sec := range pending {
		res := results[sec.URL]

		if res.Err != nil && s.shouldRetry(res.Err) {
			res = s.retryFetch(ctx, sec.URL)
		}

		// A fetch that lost to shutdown cancellation is not a section
		// failure: the section stays pending and is re-fetched on resume
		// or by reconciliation
		if res.Err != nil && ctx.Err() != nil {
			continue
		}

		outcome.processed++
		s.recordOutcome(code, batchNumber, sec, res, &outcome)
	}

	return outcome
}

func (s *Service) shouldRetry(err error) bool {
	return s.config.MaxAttempts > 1 && !scraper.IsPermanent(err) && failures.ClassifyFetchError(err).Retriable()
}

// retryFetch re-attempts a failed URL through the remaining rungs of the
// ladder. The batch sweep was attempt one, so MaxAttempts-1 remain.
func (s *Service) retryFetch(ctx context.Context, url string) interfaces.BatchResult {
	policy := &scraper.RetryPolicy{
		MaxAttempts:       s.config.MaxAttempts - 1,
		InitialBackoff:    s.retry.InitialBackoff,
		BackoffMultiplier: s.retry.BackoffMultiplier,
	}
	result, err := policy.FetchWithRetry(ctx, s.scraper, url, interfaces.FetchOptions{Timeout: s.config.RequestTimeout}, s.logger)
	return interfaces.BatchResult{Result: result, Err: err}
}

// recordOutcome persists one section's extraction result or failure
func (s *Service) recordOutcome(code string, batchNumber int, sec *models.Section, res interfaces.BatchResult, outcome *batchOutcome) {
	if res.Err != nil {
		s.logFailure(code, batchNumber, sec, failures.ClassifyFetchError(res.Err), res.Err.Error())
		outcome.failedIDs = append(outcome.failedIDs, sec.SectionID)
		return
	}

	pageURL := res.Result.FinalURL
	if pageURL == "" {
		pageURL = res.Result.URL
	}
	parsed := parser.Parse(pageURL, res.Result.HTML)

	switch {
	case parsed.IsMultiVersion:
		update := models.SectionUpdate{IsMultiVersion: models.BoolPtr(true)}
		if err := s.storage.SectionStorage().UpsertSection(code, sec.SectionID, update); err != nil {
			s.logger.Error().Err(err).Str("section", sec.SectionID).Msg("Failed to flag multi-version section")
			outcome.failedIDs = append(outcome.failedIDs, sec.SectionID)
			return
		}
		outcome.multiVersionIDs = append(outcome.multiVersionIDs, sec.SectionID)
		s.logger.Debug().Str("code", code).Str("section", sec.SectionID).Msg("Multi-version section deferred to stage 3")

	case parsed.Empty:
		kind := failures.ClassifyEmpty(parsed, res.Result.HTML)
		s.logFailure(code, batchNumber, sec, kind, "page yielded no section content")
		outcome.failedIDs = append(outcome.failedIDs, sec.SectionID)

	default:
		update := models.SectionUpdate{
			Content:        models.StrPtr(parsed.Content),
			RawContent:     models.StrPtr(res.Result.Markdown),
			IsMultiVersion: models.BoolPtr(false),
			IsCurrent:      models.BoolPtr(true),
		}
		if parsed.LegislativeHistory != "" {
			update.LegislativeHistory = models.StrPtr(parsed.LegislativeHistory)
		}
		if err := s.storage.SectionStorage().UpsertSection(code, sec.SectionID, update); err != nil {
			s.logger.Error().Err(err).Str("section", sec.SectionID).Msg("Failed to persist section content")
			outcome.failedIDs = append(outcome.failedIDs, sec.SectionID)
			return
		}
		outcome.succeeded++
	}
}

func (s *Service) logFailure(code string, batchNumber int, sec *models.Section, kind models.FailureType, message string) {
	record := &models.FailureRecord{
		Code:           code,
		SectionID:      sec.SectionID,
		URL:            sec.URL,
		FailureType:    kind,
		ErrorMessage:   message,
		Stage:          s.stage,
		BatchNumber:    batchNumber,
		IsMultiVersion: sec.IsMultiVersion,
		FailedAt:       time.Now(),
	}
	if !kind.Retriable() {
		record.RetryStatus = models.RetryAbandoned
	}
	if err := s.storage.FailureStorage().LogFailure(record); err != nil {
		s.logger.Error().Err(err).Str("section", sec.SectionID).Msg("Failed to log failure record")
	}

	s.logger.Warn().
		Str("code", code).
		Str("section", sec.SectionID).
		Str("type", string(kind)).
		Int("batch", batchNumber).
		Msg("Section extraction failed")
}

func (s *Service) emitProgress(code string, batch, totalBatches int, result *Result, start time.Time, batchDuration time.Duration) {
	elapsed := time.Since(start)

	update := interfaces.ProgressUpdate{
		Code:          code,
		Stage:         s.stage,
		Batch:         batch,
		TotalBatches:  totalBatches,
		Processed:     result.Processed,
		Succeeded:     result.Succeeded,
		Failed:        result.Failed,
		WorkerCount:   s.config.WorkerCount,
		Elapsed:       elapsed,
		BatchDuration: batchDuration,
	}
	if result.Processed > 0 {
		update.SuccessRate = float64(result.Succeeded) / float64(result.Processed)
	}
	if secs := elapsed.Seconds(); secs > 0 {
		update.Rate = float64(result.Succeeded) / secs
	}
	if update.Rate > 0 && batch < totalBatches {
		remaining := float64(totalBatches-batch) / float64(batch) * elapsed.Seconds()
		update.ETA = time.Duration(remaining * float64(time.Second))
	}

	for _, o := range s.observers {
		o.OnBatchComplete(update)
	}
}

// partition splits sections into fixed-size batches, preserving order
func partition(sections []*models.Section, size int) [][]*models.Section {
	if size < 1 {
		size = 1
	}
	var batches [][]*models.Section
	for start := 0; start < len(sections); start += size {
		end := start + size
		if end > len(sections) {
			end = len(sections)
		}
		batches = append(batches, sections[start:end])
	}
	return batches
}
