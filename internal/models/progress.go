package models

import (
	"math"
	"time"
)

// RecentErrorsLimit caps the errors carried by a ProgressSnapshot.
const RecentErrorsLimit = 10

// minRate keeps the remaining-time estimate finite while throughput is ~0.
const minRate = 1e-6

// ProgressSnapshot is the read-only view of a job handed to callers.
type ProgressSnapshot struct {
	JobID                     string     `json:"job_id"`
	FileName                  string     `json:"file_name"`
	SubmitterID               string     `json:"submitter_id"`
	Status                    JobStatus  `json:"status"`
	TotalItems                int        `json:"total_items"`
	ProcessedItems            int        `json:"processed_items"`
	SuccessCount              int        `json:"success_count"`
	FailureCount              int        `json:"failure_count"`
	Percentage                float64    `json:"percentage"`
	EstimatedSecondsRemaining *float64   `json:"estimated_seconds_remaining,omitempty"`
	RecentErrors              []RowError `json:"recent_errors"`
	ErrorMessage              string     `json:"error_message,omitempty"`
	CreatedAt                 time.Time  `json:"created_at"`
	StartedAt                 *time.Time `json:"started_at,omitempty"`
	CompletedAt               *time.Time `json:"completed_at,omitempty"`
}

// Project derives a ProgressSnapshot from job as of now. It never mutates job.
//
// The estimate is omitted while it cannot be computed: before the job has
// started, before the total is known, or before any item is processed.
// Terminal jobs report zero seconds remaining.
func Project(job *Job, now time.Time) ProgressSnapshot {
	snap := ProgressSnapshot{
		JobID:          job.ID,
		FileName:       job.FileName,
		SubmitterID:    job.SubmitterID,
		Status:         job.Status,
		TotalItems:     job.TotalItems,
		ProcessedItems: job.ProcessedItems,
		SuccessCount:   job.SuccessCount,
		FailureCount:   job.FailureCount,
		Percentage:     job.Percentage,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		RecentErrors:   recentErrors(job.Errors),
	}

	switch {
	case job.IsTerminal():
		zero := 0.0
		snap.EstimatedSecondsRemaining = &zero
	case job.StartedAt != nil && job.TotalItems > 0 && job.ProcessedItems > 0:
		elapsed := now.Sub(*job.StartedAt).Seconds()
		var rate float64
		if elapsed > 0 {
			rate = float64(job.ProcessedItems) / elapsed
		}
		eta := float64(job.TotalItems-job.ProcessedItems) / math.Max(rate, minRate)
		eta = math.Round(eta*100) / 100
		snap.EstimatedSecondsRemaining = &eta
	}

	return snap
}

func recentErrors(all []RowError) []RowError {
	start := 0
	if len(all) > RecentErrorsLimit {
		start = len(all) - RecentErrorsLimit
	}
	out := make([]RowError, len(all)-start)
	copy(out, all[start:])
	return out
}
