package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"auction-bulkops/internal/metrics"
	"auction-bulkops/internal/models"
	"auction-bulkops/internal/service"
)

const (
	HeaderSubmitterID   = "X-Submitter-ID"
	HeaderSubmitterName = "X-Submitter-Name"
)

// ImportEngine is the job engine surface the handler serves.
type ImportEngine interface {
	Submit(ctx context.Context, submitterID, submitterName, fileName string, r io.Reader) (string, error)
	GetProgress(ctx context.Context, jobID string) (models.ProgressSnapshot, error)
	ListJobs(ctx context.Context, submitterID string) ([]models.ProgressSnapshot, error)
	Cancel(ctx context.Context, jobID string) (models.ProgressSnapshot, error)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type submitResponse struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

// JobHandler handles HTTP requests for import jobs
type JobHandler struct {
	engine  ImportEngine
	metrics *metrics.Metrics
}

// NewJobHandler creates a new job handler
func NewJobHandler(engine ImportEngine, metrics *metrics.Metrics) *JobHandler {
	return &JobHandler{
		engine:  engine,
		metrics: metrics,
	}
}

func fail(c echo.Context, status int, code, message string) error {
	return c.JSON(status, apiResponse{Error: &errorBody{Code: code, Message: message}})
}

// SubmitImport handles POST /api/v1/imports
func (h *JobHandler) SubmitImport(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, http.StatusBadRequest, "missing_file", "multipart field \"file\" is required")
	}

	f, err := fh.Open()
	if err != nil {
		return fail(c, http.StatusBadRequest, "unreadable_file", "uploaded file cannot be read")
	}
	defer f.Close()

	req := c.Request()
	jobID, err := h.engine.Submit(req.Context(), req.Header.Get(HeaderSubmitterID), req.Header.Get(HeaderSubmitterName), fh.Filename, f)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSubmitter):
			return fail(c, http.StatusBadRequest, "invalid_submitter", HeaderSubmitterID+" header is required")
		case errors.Is(err, service.ErrRateLimitExceeded):
			return fail(c, http.StatusTooManyRequests, "rate_limited", "too many submissions, retry later")
		case errors.Is(err, service.ErrShuttingDown):
			return fail(c, http.StatusServiceUnavailable, "shutting_down", "import engine is shutting down")
		}
		log.Error().Err(err).Str("file_name", fh.Filename).Msg("error submitting import")
		return fail(c, http.StatusInternalServerError, "internal_error", "failed to accept import")
	}

	return c.JSON(http.StatusAccepted, apiResponse{Data: submitResponse{JobID: jobID, Status: models.StatusPending}})
}

// GetImport handles GET /api/v1/imports/:id
func (h *JobHandler) GetImport(c echo.Context) error {
	snap, err := h.engine.GetProgress(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return fail(c, http.StatusNotFound, "not_found", "import job not found")
		}
		log.Error().Err(err).Str("job_id", c.Param("id")).Msg("error getting import")
		return fail(c, http.StatusInternalServerError, "internal_error", "failed to retrieve import job")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: snap})
}

// ListImports handles GET /api/v1/imports
func (h *JobHandler) ListImports(c echo.Context) error {
	snaps, err := h.engine.ListJobs(c.Request().Context(), c.Request().Header.Get(HeaderSubmitterID))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSubmitter) {
			return fail(c, http.StatusBadRequest, "invalid_submitter", HeaderSubmitterID+" header is required")
		}
		log.Error().Err(err).Msg("error listing imports")
		return fail(c, http.StatusInternalServerError, "internal_error", "failed to list import jobs")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: snaps})
}

// CancelImport handles POST /api/v1/imports/:id/cancel
func (h *JobHandler) CancelImport(c echo.Context) error {
	snap, err := h.engine.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return fail(c, http.StatusNotFound, "not_found", "import job not found")
		case errors.Is(err, service.ErrAlreadyTerminal):
			return c.JSON(http.StatusConflict, apiResponse{
				Data:  snap,
				Error: &errorBody{Code: "already_terminal", Message: "import job already finished"},
			})
		}
		log.Error().Err(err).Str("job_id", c.Param("id")).Msg("error cancelling import")
		return fail(c, http.StatusInternalServerError, "internal_error", "failed to cancel import job")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: snap})
}

// GetMetrics handles GET /metrics
func (h *JobHandler) GetMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.metrics.GetSnapshot())
}
