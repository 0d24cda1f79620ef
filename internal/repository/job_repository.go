package repository

import (
	"context"
	"errors"
	"time"

	"auction-bulkops/internal/models"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobExists       = errors.New("job already registered")
	ErrAlreadyTerminal = errors.New("job already terminal")
)

// JobRegistry defines the in-memory store of import jobs shared by the
// submission path and the worker. Every method returns copies, so callers
// never share a *models.Job with the registry.
type JobRegistry interface {
	Add(job *models.Job) error
	Get(id string) (*models.Job, error)
	Update(job *models.Job) error
	ListBySubmitter(submitterID string) []*models.Job
	Remove(id string)

	// Claim hands a pending job to the worker. When the job was cancelled
	// before it was picked up it returns the record with ErrAlreadyTerminal.
	Claim(id string) (*models.Job, error)
	// RequestCancel cancels a pending job in place, or flags a claimed one
	// for the worker to stop at its next chunk boundary.
	RequestCancel(id string) (*models.Job, error)
	CancelRequested(id string) bool

	Sweep(now time.Time) int
}

// ListingRepository defines the persistence collaborator for validated
// listings. A batch is committed as a whole or not at all.
type ListingRepository interface {
	SaveBatch(ctx context.Context, listings []models.Listing) error
	CountListings(ctx context.Context) (int, error)
	Close() error
}
