package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// MaxStoredErrors bounds how many row errors a job keeps in detail.
const MaxStoredErrors = 1000

var (
	ErrInvalidState  = errors.New("invalid job state")
	ErrNoItems       = errors.New("cannot finalize with zero items")
	ErrBatchOverflow = errors.New("batch exceeds remaining items")
)

// JobStatus represents the state of a job
type JobStatus string

const (
	StatusPending             JobStatus = "PENDING"
	StatusCounting            JobStatus = "COUNTING"
	StatusProcessing          JobStatus = "PROCESSING"
	StatusCompleted           JobStatus = "COMPLETED"
	StatusCompletedWithErrors JobStatus = "COMPLETED_WITH_ERRORS"
	StatusFailed              JobStatus = "FAILED"
	StatusCancelled           JobStatus = "CANCELLED"
)

// IsTerminal reports whether no further processing happens in this status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// RowError attributes a row-level failure to its position in the source file.
type RowError struct {
	RowNumber int    `json:"row_number"`
	Message   string `json:"message"`
}

// Job represents one submitted import in the system
type Job struct {
	ID            string `json:"id"`
	SubmitterID   string `json:"submitter_id"`
	SubmitterName string `json:"submitter_name"`
	FileName      string `json:"file_name"`
	SourceHandle  string `json:"-"`

	Status         JobStatus `json:"status"`
	TotalItems     int       `json:"total_items"`
	ProcessedItems int       `json:"processed_items"`
	SuccessCount   int       `json:"success_count"`
	FailureCount   int       `json:"failure_count"`
	Percentage     float64   `json:"percentage"`

	Errors       []RowError `json:"errors,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a pending job with zero counters.
func NewJob(id, submitterID, submitterName, fileName, sourceHandle string, now time.Time) *Job {
	return &Job{
		ID:            id,
		SubmitterID:   submitterID,
		SubmitterName: submitterName,
		FileName:      fileName,
		SourceHandle:  sourceHandle,
		Status:        StatusPending,
		CreatedAt:     now,
	}
}

// Clone returns a deep copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	c := *j
	if j.Errors != nil {
		c.Errors = make([]RowError, len(j.Errors))
		copy(c.Errors, j.Errors)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// IsTerminal reports whether the job reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

func (j *Job) transitionErr(op string) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidState, op, j.Status)
}

// BeginCounting moves a pending job into counting.
func (j *Job) BeginCounting(now time.Time) error {
	if j.Status != StatusPending {
		return j.transitionErr("begin counting")
	}
	j.Status = StatusCounting
	j.StartedAt = &now
	return nil
}

// SetTotalItems fixes the item count once counting finishes and moves the
// job into processing.
func (j *Job) SetTotalItems(n int) error {
	if j.Status != StatusCounting {
		return j.transitionErr("set total items")
	}
	if n <= 0 {
		return ErrNoItems
	}
	j.TotalItems = n
	j.Status = StatusProcessing
	return nil
}

// AddRowError records a row failure in detail while below MaxStoredErrors.
// It reports whether the error was stored. Counters are not touched; the
// failure is counted by the RecordBatch call covering the row.
func (j *Job) AddRowError(rowNumber int, message string) bool {
	if len(j.Errors) >= MaxStoredErrors {
		return false
	}
	j.Errors = append(j.Errors, RowError{RowNumber: rowNumber, Message: message})
	return true
}

// RecordBatch adds a committed batch's outcome to the counters and resolves
// the terminal status once every item is accounted for.
func (j *Job) RecordBatch(successes, failures int, now time.Time) error {
	if j.Status != StatusProcessing {
		return j.transitionErr("record batch")
	}
	if successes < 0 || failures < 0 {
		return fmt.Errorf("%w: negative counts %d/%d", ErrBatchOverflow, successes, failures)
	}
	if j.ProcessedItems+successes+failures > j.TotalItems {
		return fmt.Errorf("%w: %d+%d with %d of %d processed",
			ErrBatchOverflow, successes, failures, j.ProcessedItems, j.TotalItems)
	}

	j.SuccessCount += successes
	j.FailureCount += failures
	j.ProcessedItems = j.SuccessCount + j.FailureCount
	j.Percentage = math.Round(float64(j.ProcessedItems)/float64(j.TotalItems)*100*100) / 100

	if j.ProcessedItems < j.TotalItems {
		return nil
	}

	j.CompletedAt = &now
	switch {
	case j.FailureCount == 0:
		j.Status = StatusCompleted
	case j.SuccessCount > 0:
		j.Status = StatusCompletedWithErrors
	default:
		j.Status = StatusFailed
	}
	return nil
}

// Cancel stops the job from any non-terminal status.
func (j *Job) Cancel(now time.Time) error {
	if j.IsTerminal() {
		return j.transitionErr("cancel")
	}
	j.Status = StatusCancelled
	j.CompletedAt = &now
	return nil
}

// Fail marks a whole-job failure from any non-terminal status.
func (j *Job) Fail(message string, now time.Time) error {
	if j.IsTerminal() {
		return j.transitionErr("fail")
	}
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.CompletedAt = &now
	return nil
}
