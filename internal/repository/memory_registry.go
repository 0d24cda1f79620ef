package repository

import (
	"sort"
	"sync"
	"time"

	"auction-bulkops/internal/models"
)

const (
	DefaultRetention = 24 * time.Hour
	DefaultQuota     = 10
)

type registryEntry struct {
	job             *models.Job
	seq             uint64
	claimed         bool
	cancelRequested bool
}

// newerFirst orders entries by creation time, newest first, breaking ties
// by insertion order.
func newerFirst(a, b *registryEntry) bool {
	if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
		return a.job.CreatedAt.After(b.job.CreatedAt)
	}
	return a.seq > b.seq
}

// MemoryRegistry implements JobRegistry with a mutex-guarded map.
type MemoryRegistry struct {
	mu        sync.RWMutex
	entries   map[string]*registryEntry
	retention time.Duration
	quota     int
	seq       uint64
	now       func() time.Time
}

// NewMemoryRegistry creates a registry that evicts terminal jobs older than
// retention and keeps at most quota jobs visible per submitter.
func NewMemoryRegistry(retention time.Duration, quota int) *MemoryRegistry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &MemoryRegistry{
		entries:   make(map[string]*registryEntry),
		retention: retention,
		quota:     quota,
		now:       time.Now,
	}
}

// WithClock replaces the registry's time source.
func (r *MemoryRegistry) WithClock(now func() time.Time) *MemoryRegistry {
	r.now = now
	return r
}

// Quota returns the per-submitter job quota.
func (r *MemoryRegistry) Quota() int {
	return r.quota
}

// Add sweeps expired jobs, stores job, then trims the submitter's oldest
// terminal jobs beyond the quota.
func (r *MemoryRegistry) Add(job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(r.now())

	if _, ok := r.entries[job.ID]; ok {
		return ErrJobExists
	}
	r.seq++
	r.entries[job.ID] = &registryEntry{job: job.Clone(), seq: r.seq}
	r.enforceQuotaLocked(job.SubmitterID)
	return nil
}

// Get returns a copy of the job with the given id.
func (r *MemoryRegistry) Get(id string) (*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return e.job.Clone(), nil
}

// Update replaces the stored record for job.ID.
func (r *MemoryRegistry) Update(job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	e.job = job.Clone()
	return nil
}

// ListBySubmitter returns the submitter's jobs newest first, at most quota.
func (r *MemoryRegistry) ListBySubmitter(submitterID string) []*models.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.bySubmitterLocked(submitterID)
	sort.Slice(entries, func(i, j int) bool {
		return newerFirst(entries[i], entries[j])
	})
	if len(entries) > r.quota {
		entries = entries[:r.quota]
	}

	out := make([]*models.Job, len(entries))
	for i, e := range entries {
		out[i] = e.job.Clone()
	}
	return out
}

// Remove deletes the job with the given id, if present.
func (r *MemoryRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

func (r *MemoryRegistry) Claim(id string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if e.job.IsTerminal() {
		return e.job.Clone(), ErrAlreadyTerminal
	}
	e.claimed = true
	return e.job.Clone(), nil
}

func (r *MemoryRegistry) RequestCancel(id string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if e.job.IsTerminal() {
		return e.job.Clone(), ErrAlreadyTerminal
	}

	if e.claimed {
		e.cancelRequested = true
		return e.job.Clone(), nil
	}
	if err := e.job.Cancel(r.now()); err != nil {
		return nil, err
	}
	return e.job.Clone(), nil
}

func (r *MemoryRegistry) CancelRequested(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	return ok && e.cancelRequested
}

// Sweep evicts terminal jobs that finished more than the retention window
// before now. It returns the number of evicted jobs.
func (r *MemoryRegistry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(now)
}

func (r *MemoryRegistry) sweepLocked(now time.Time) int {
	cutoff := now.Add(-r.retention)
	evicted := 0
	for id, e := range r.entries {
		if !e.job.IsTerminal() {
			continue
		}
		finished := e.job.CreatedAt
		if e.job.CompletedAt != nil {
			finished = *e.job.CompletedAt
		}
		if finished.Before(cutoff) {
			delete(r.entries, id)
			evicted++
		}
	}
	return evicted
}

func (r *MemoryRegistry) enforceQuotaLocked(submitterID string) {
	entries := r.bySubmitterLocked(submitterID)
	excess := len(entries) - r.quota
	if excess <= 0 {
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		return newerFirst(entries[j], entries[i])
	})
	for _, e := range entries {
		if excess == 0 {
			return
		}
		if e.job.IsTerminal() {
			delete(r.entries, e.job.ID)
			excess--
		}
	}
}

func (r *MemoryRegistry) bySubmitterLocked(submitterID string) []*registryEntry {
	var entries []*registryEntry
	for _, e := range r.entries {
		if e.job.SubmitterID == submitterID {
			entries = append(entries, e)
		}
	}
	return entries
}
