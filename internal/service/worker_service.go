package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"auction-bulkops/internal/metrics"
	"auction-bulkops/internal/models"
	"auction-bulkops/internal/parser"
	"auction-bulkops/internal/queue"
	"auction-bulkops/internal/repository"
	"auction-bulkops/internal/staging"
)

const (
	DefaultChunkSize        = 1000
	DefaultProgressInterval = time.Second

	interruptedMessage = "interrupted: worker stopped"
	cleanupTimeout     = 30 * time.Second
)

// ListingBuilder turns one parsed record into a listing owned by sellerID.
type ListingBuilder func(rec models.ImportRecord, sellerID string) (models.Listing, error)

type WorkerConfig struct {
	ChunkSize        int
	ProgressInterval time.Duration
}

// WorkerService is the single consumer of the work queue. It owns a job
// from Claim until its final registry write.
type WorkerService struct {
	registry repository.JobRegistry
	queue    *queue.Queue[string]
	stager   staging.Stager
	listings repository.ListingRepository
	metrics  *metrics.Metrics
	cfg      WorkerConfig

	build     ListingBuilder
	parserFor func(fileName string) (parser.Parser, error)
	now       func() time.Time
}

// NewWorkerService creates a new worker service
func NewWorkerService(registry repository.JobRegistry, q *queue.Queue[string], stager staging.Stager, listings repository.ListingRepository, metrics *metrics.Metrics, cfg WorkerConfig) *WorkerService {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	return &WorkerService{
		registry:  registry,
		queue:     q,
		stager:    stager,
		listings:  listings,
		metrics:   metrics,
		cfg:       cfg,
		build:     models.NewListing,
		parserFor: parser.ForFile,
		now:       time.Now,
	}
}

// Run processes queued jobs one at a time until ctx ends or the queue is
// closed and drained.
func (s *WorkerService) Run(ctx context.Context) error {
	log.Info().Int("chunk_size", s.cfg.ChunkSize).Msg("import worker started")
	for {
		id, err := s.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				log.Info().Msg("import worker stopped")
				return nil
			}
			return err
		}
		s.ProcessJob(ctx, id)
	}
}

// ProcessJob drives one job to a terminal state. The staged file of every
// claimed job is removed exactly once, whatever the outcome.
func (s *WorkerService) ProcessJob(ctx context.Context, jobID string) {
	job, err := s.registry.Claim(jobID)
	if err != nil {
		if job != nil {
			// Only a pending cancel finishes a job before pickup, and
			// ImportService.Cancel already removed its staged file.
			log.Info().Str("job_id", jobID).Str("status", string(job.Status)).Msg("skipping job finished before pickup")
			return
		}
		log.Warn().Err(err).Str("job_id", jobID).Msg("queued job is no longer registered")
		return
	}
	defer s.removeStaged(ctx, job)

	started := s.now()
	s.execute(ctx, job)

	if err := s.registry.Update(job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to store final job state")
	}
	s.metrics.RecordTerminal(job.Status)

	event := log.Info()
	if job.Status == models.StatusFailed {
		event = log.Error().Str("error_message", job.ErrorMessage)
	}
	event.
		Str("job_id", job.ID).
		Str("submitter_id", job.SubmitterID).
		Str("status", string(job.Status)).
		Int("total", job.TotalItems).
		Int("succeeded", job.SuccessCount).
		Int("failed", job.FailureCount).
		Dur("elapsed", s.now().Sub(started)).
		Msg("import finished")
}

func (s *WorkerService) execute(ctx context.Context, job *models.Job) {
	if err := job.BeginCounting(s.now()); err != nil {
		s.invariant(job, err)
		return
	}
	s.publish(job)

	records, err := s.readRecords(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			s.fail(job, interruptedMessage)
			return
		}
		s.fail(job, err.Error())
		return
	}

	if err := job.SetTotalItems(len(records)); err != nil {
		if errors.Is(err, models.ErrNoItems) {
			s.fail(job, models.ErrNoItems.Error())
			return
		}
		s.invariant(job, err)
		return
	}
	s.publish(job)
	lastPublish := s.now()

	log.Info().Str("job_id", job.ID).Int("total", job.TotalItems).Msg("import counted")

	for start := 0; start < len(records); start += s.cfg.ChunkSize {
		if s.registry.CancelRequested(job.ID) {
			if err := job.Cancel(s.now()); err != nil {
				s.invariant(job, err)
			}
			return
		}
		if ctx.Err() != nil {
			s.fail(job, interruptedMessage)
			return
		}

		end := min(start+s.cfg.ChunkSize, len(records))
		if err := s.processChunk(ctx, job, records[start:end]); err != nil {
			if errors.Is(err, models.ErrInvalidState) || errors.Is(err, models.ErrBatchOverflow) {
				s.invariant(job, err)
				return
			}
			s.fail(job, err.Error())
			return
		}

		if now := s.now(); now.Sub(lastPublish) >= s.cfg.ProgressInterval {
			s.publish(job)
			lastPublish = now
		}
	}

	if !job.IsTerminal() {
		s.invariant(job, fmt.Errorf("%w: %d of %d items processed after last chunk",
			models.ErrInvalidState, job.ProcessedItems, job.TotalItems))
	}
}

func (s *WorkerService) readRecords(ctx context.Context, job *models.Job) ([]models.ImportRecord, error) {
	p, err := s.parserFor(job.FileName)
	if err != nil {
		return nil, err
	}

	rc, err := s.stager.Open(ctx, job.SourceHandle)
	if err != nil {
		return nil, fmt.Errorf("cannot read uploaded file: %w", err)
	}
	defer rc.Close()

	records, err := p.Parse(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", job.FileName, err)
	}
	return records, nil
}

// processChunk builds listings for chunk, commits them as one batch and
// records the outcome. The commit runs to completion even if ctx ends. Row
// errors reach the job only once the batch is committed.
func (s *WorkerService) processChunk(ctx context.Context, job *models.Job, chunk []models.ImportRecord) error {
	listings := make([]models.Listing, 0, len(chunk))
	var rowErrs []models.RowError

	for _, rec := range chunk {
		listing, err := s.build(rec, job.SubmitterID)
		if err != nil {
			rowErrs = append(rowErrs, models.RowError{RowNumber: rec.RowNumber, Message: err.Error()})
			continue
		}
		listings = append(listings, listing)
	}

	if len(listings) > 0 {
		if err := s.listings.SaveBatch(context.WithoutCancel(ctx), listings); err != nil {
			return fmt.Errorf("failed to persist batch: %w", err)
		}
	}

	for i, re := range rowErrs {
		if !job.AddRowError(re.RowNumber, re.Message) && job.FailureCount+i+1 == models.MaxStoredErrors+1 {
			log.Warn().Str("job_id", job.ID).Int("cap", models.MaxStoredErrors).Msg("row error detail capped")
		}
	}

	failures := len(rowErrs)
	if err := job.RecordBatch(len(listings), failures, s.now()); err != nil {
		return err
	}
	s.metrics.RecordBatch(len(listings), failures)

	log.Debug().
		Str("job_id", job.ID).
		Int("processed", job.ProcessedItems).
		Int("total", job.TotalItems).
		Float64("percentage", job.Percentage).
		Msg("chunk committed")
	return nil
}

func (s *WorkerService) publish(job *models.Job) {
	if err := s.registry.Update(job); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to publish progress")
	}
}

func (s *WorkerService) fail(job *models.Job, message string) {
	if err := job.Fail(message, s.now()); err != nil {
		s.invariant(job, err)
	}
}

// invariant reports a state machine violation. It is an engine bug, so it
// is logged at error level and the job is failed if it still can be.
func (s *WorkerService) invariant(job *models.Job, err error) {
	log.Error().Err(err).Str("job_id", job.ID).Str("status", string(job.Status)).Msg("job invariant violated")
	if !job.IsTerminal() {
		_ = job.Fail("internal error: "+err.Error(), s.now())
	}
}

func (s *WorkerService) removeStaged(ctx context.Context, job *models.Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := s.stager.Remove(ctx, job.SourceHandle); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to remove staged file")
	}
}
