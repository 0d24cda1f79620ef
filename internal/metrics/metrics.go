package metrics

import (
	"sync"

	"auction-bulkops/internal/models"
)

// Metrics tracks import engine counters
type Metrics struct {
	mu sync.RWMutex

	submittedJobs          int64
	rejectedSubmissions    int64
	completedJobs          int64
	completedWithErrorJobs int64
	failedJobs             int64
	cancelledJobs          int64
	rowsSucceeded          int64
	rowsFailed             int64
	batchesCommitted       int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncrementSubmittedJobs counts an accepted submission
func (m *Metrics) IncrementSubmittedJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submittedJobs++
}

// IncrementRejectedSubmissions counts a submission refused by the rate limiter
func (m *Metrics) IncrementRejectedSubmissions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectedSubmissions++
}

// RecordTerminal counts a job reaching status. Non-terminal statuses are ignored.
func (m *Metrics) RecordTerminal(status models.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch status {
	case models.StatusCompleted:
		m.completedJobs++
	case models.StatusCompletedWithErrors:
		m.completedWithErrorJobs++
	case models.StatusFailed:
		m.failedJobs++
	case models.StatusCancelled:
		m.cancelledJobs++
	}
}

// RecordBatch counts one committed chunk and its row outcomes
func (m *Metrics) RecordBatch(succeeded, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchesCommitted++
	m.rowsSucceeded += int64(succeeded)
	m.rowsFailed += int64(failed)
}

// GetSnapshot returns a snapshot of all metrics
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"jobs_submitted":             m.submittedJobs,
		"submissions_rejected":       m.rejectedSubmissions,
		"jobs_completed":             m.completedJobs,
		"jobs_completed_with_errors": m.completedWithErrorJobs,
		"jobs_failed":                m.failedJobs,
		"jobs_cancelled":             m.cancelledJobs,
		"rows_succeeded":             m.rowsSucceeded,
		"rows_failed":                m.rowsFailed,
		"batches_committed":          m.batchesCommitted,
	}
}
