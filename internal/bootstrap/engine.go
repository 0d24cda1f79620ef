package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"auction-bulkops/internal/config"
	"auction-bulkops/internal/metrics"
	"auction-bulkops/internal/queue"
	"auction-bulkops/internal/repository"
	"auction-bulkops/internal/service"
	"auction-bulkops/internal/staging"
)

// Engine bundles the collaborators of one import engine instance.
type Engine struct {
	Registry *repository.MemoryRegistry
	Queue    *queue.Queue[string]
	Stager   staging.Stager
	Listings repository.ListingRepository
	Metrics  *metrics.Metrics
	Service  *service.ImportService
	Worker   *service.WorkerService

	closers []func() error
}

// NewEngine opens the listing store and staging backend selected by cfg
// and wires the service and worker around them.
func NewEngine(ctx context.Context, cfg config.Config) (*Engine, error) {
	e := &Engine{
		Registry: repository.NewMemoryRegistry(cfg.Registry.Retention, cfg.Registry.Quota),
		Queue:    queue.New[string](),
		Metrics:  metrics.NewMetrics(),
	}

	listings, err := OpenListings(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	e.Listings = listings
	e.closers = append(e.closers, listings.Close)

	stager, closeStager, err := OpenStager(ctx, cfg.Staging)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.Stager = stager
	if closeStager != nil {
		e.closers = append(e.closers, closeStager)
	}

	limiter := service.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	e.Service = service.NewImportService(e.Registry, e.Queue, e.Stager, limiter, e.Metrics)
	e.Worker = service.NewWorkerService(e.Registry, e.Queue, e.Stager, e.Listings, e.Metrics, service.WorkerConfig{
		ChunkSize:        cfg.Engine.ChunkSize,
		ProgressInterval: cfg.Engine.ProgressInterval,
	})
	return e, nil
}

// Close stops intake and releases the store and staging backend.
func (e *Engine) Close() error {
	e.Queue.Close()
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func OpenListings(ctx context.Context, cfg config.DBConfig) (repository.ListingRepository, error) {
	switch cfg.Driver {
	case "sqlite":
		repo, err := repository.NewSQLiteListingRepository(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite listing store: %w", err)
		}
		log.Info().Str("path", cfg.Path).Msg("listing store ready")
		return repo, nil
	case "postgres":
		repo, err := repository.OpenPostgresListingRepository(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres listing store: %w", err)
		}
		log.Info().Str("driver", "postgres").Msg("listing store ready")
		return repo, nil
	}
	return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
}

// OpenStager returns the staging backend and an optional close func.
func OpenStager(ctx context.Context, cfg config.StagingConfig) (staging.Stager, func() error, error) {
	switch cfg.Backend {
	case "local":
		s, err := staging.NewLocalStager(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to prepare staging dir: %w", err)
		}
		log.Info().Str("dir", s.Dir).Msg("staging ready")
		return s, nil, nil
	case "gcs":
		s, err := staging.NewGCSStager(ctx, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect staging bucket: %w", err)
		}
		log.Info().Str("bucket", cfg.Bucket).Str("prefix", cfg.Prefix).Msg("staging ready")
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown staging backend %q", cfg.Backend)
}
