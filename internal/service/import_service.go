package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"auction-bulkops/internal/metrics"
	"auction-bulkops/internal/models"
	"auction-bulkops/internal/queue"
	"auction-bulkops/internal/repository"
	"auction-bulkops/internal/staging"
)

var (
	ErrJobNotFound       = repository.ErrJobNotFound
	ErrAlreadyTerminal   = repository.ErrAlreadyTerminal
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidSubmitter  = errors.New("submitter id is required")
	ErrShuttingDown      = errors.New("import engine is shutting down")
)

// ImportService is the caller-facing surface of the import engine:
// submit, getProgress, listJobs and cancel.
type ImportService struct {
	registry    repository.JobRegistry
	queue       *queue.Queue[string]
	stager      staging.Stager
	rateLimiter *RateLimiter
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewImportService creates a new import service
func NewImportService(registry repository.JobRegistry, q *queue.Queue[string], stager staging.Stager, rateLimiter *RateLimiter, metrics *metrics.Metrics) *ImportService {
	return &ImportService{
		registry:    registry,
		queue:       q,
		stager:      stager,
		rateLimiter: rateLimiter,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Submit stages r, registers a pending job and queues it for the worker.
func (s *ImportService) Submit(ctx context.Context, submitterID, submitterName, fileName string, r io.Reader) (string, error) {
	submitterID = strings.TrimSpace(submitterID)
	if submitterID == "" {
		return "", ErrInvalidSubmitter
	}

	if err := s.rateLimiter.CheckSubmissionRate(submitterID); err != nil {
		s.metrics.IncrementRejectedSubmissions()
		log.Warn().Str("submitter_id", submitterID).Msg("submission rejected by rate limiter")
		return "", err
	}

	handle, err := s.stager.Stage(ctx, fileName, r)
	if err != nil {
		return "", fmt.Errorf("failed to stage upload: %w", err)
	}

	job := models.NewJob(uuid.New().String(), submitterID, submitterName, fileName, handle, s.now())
	if err := s.registry.Add(job); err != nil {
		s.discard(ctx, job)
		return "", fmt.Errorf("failed to register job: %w", err)
	}

	if !s.queue.Push(job.ID) {
		s.registry.Remove(job.ID)
		s.discard(ctx, job)
		return "", ErrShuttingDown
	}

	s.metrics.IncrementSubmittedJobs()
	log.Info().
		Str("job_id", job.ID).
		Str("submitter_id", submitterID).
		Str("file_name", fileName).
		Msg("import submitted")

	return job.ID, nil
}

// GetProgress projects the current state of a job.
func (s *ImportService) GetProgress(ctx context.Context, jobID string) (models.ProgressSnapshot, error) {
	job, err := s.registry.Get(jobID)
	if err != nil {
		return models.ProgressSnapshot{}, err
	}
	return models.Project(job, s.now()), nil
}

// ListJobs returns the submitter's jobs newest first, capped to the registry quota.
func (s *ImportService) ListJobs(ctx context.Context, submitterID string) ([]models.ProgressSnapshot, error) {
	if strings.TrimSpace(submitterID) == "" {
		return nil, ErrInvalidSubmitter
	}

	jobs := s.registry.ListBySubmitter(submitterID)
	now := s.now()
	snapshots := make([]models.ProgressSnapshot, 0, len(jobs))
	for _, job := range jobs {
		snapshots = append(snapshots, models.Project(job, now))
	}
	return snapshots, nil
}

// Cancel stops a job. A pending job is cancelled at once; a running job
// stops at its next chunk boundary. The returned snapshot reflects the job
// as it stood when the request was accepted.
func (s *ImportService) Cancel(ctx context.Context, jobID string) (models.ProgressSnapshot, error) {
	job, err := s.registry.RequestCancel(jobID)
	if err != nil {
		if job != nil {
			return models.Project(job, s.now()), err
		}
		return models.ProgressSnapshot{}, err
	}

	if job.Status == models.StatusCancelled {
		s.metrics.RecordTerminal(models.StatusCancelled)
		s.discard(ctx, job)
		log.Info().Str("job_id", job.ID).Msg("pending import cancelled")
	} else {
		log.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("cancellation requested")
	}
	return models.Project(job, s.now()), nil
}

// Sweep evicts expired terminal jobs and idle rate limiter buckets.
func (s *ImportService) Sweep() int {
	evicted := s.registry.Sweep(s.now())
	s.rateLimiter.Prune(time.Hour)
	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Msg("registry sweep")
	}
	return evicted
}

func (s *ImportService) discard(ctx context.Context, job *models.Job) {
	if err := s.stager.Remove(context.WithoutCancel(ctx), job.SourceHandle); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to remove staged file")
	}
}
