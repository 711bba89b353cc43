// Package api contains the HTTP handlers for the RCA workflow service
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"rca-orchestrator/backend/internal/executor"
	"rca-orchestrator/backend/internal/logging"
	"rca-orchestrator/backend/internal/repository"
	"rca-orchestrator/backend/internal/services"
	"rca-orchestrator/backend/pkg/models"
)

// WorkflowService is the application surface the handlers call.
type WorkflowService interface {
	Submit(ctx context.Context, in models.AnomalyInput, submittedBy string) (*services.SubmitResult, error)
	GetStatus(ctx context.Context, id string) (*services.StatusView, error)
	GetResult(ctx context.Context, id string) (*models.WorkflowState, error)
	SubmitFeedback(ctx context.Context, workflowID string, fb models.Feedback, reviewer string) (*models.LearningUpdate, error)
	GetLearningRecord(ctx context.Context, workflowID string) (*models.LearningRecord, error)
	Health(ctx context.Context) *services.HealthReport
}

// Handler contains HTTP handlers for the RCA service REST API
type Handler struct {
	svc     WorkflowService
	logger  *logging.Logger
	version string
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(svc WorkflowService, logger *logging.Logger, version string) *Handler {
	return &Handler{svc: svc, logger: logger, version: version}
}

// ServiceInfo is the root endpoint response.
type ServiceInfo struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
	Timestamp time.Time         `json:"timestamp"`
}

// FeedbackRequest is the body of POST /api/rca/feedback.
type FeedbackRequest struct {
	WorkflowID string `json:"workflow_id"`
	AnomalyID  string `json:"anomaly_id,omitempty"`
	models.Feedback
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(c echo.Context, status int, title, detail string) error {
	problem := ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	// c.JSON keeps a content type that is already set
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, problem)
}

// serviceError maps domain errors onto problem responses.
func (h *Handler) serviceError(c echo.Context, err error) error {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return writeError(c, http.StatusBadRequest, "Invalid Request", verr.Error())
	case errors.Is(err, repository.ErrNotFound):
		return writeError(c, http.StatusNotFound, "Workflow Not Found", err.Error())
	case errors.Is(err, repository.ErrNotReady):
		return writeError(c, http.StatusConflict, "Workflow Not Completed", err.Error())
	case errors.Is(err, executor.ErrQueueFull), errors.Is(err, executor.ErrPoolStopped):
		c.Response().Header().Set("Retry-After", "5")
		return writeError(c, http.StatusServiceUnavailable, "Service Busy", err.Error())
	case errors.Is(err, services.ErrPersistence):
		h.logger.Error("persistence failure", "path", c.Path(), "error", err)
		return writeError(c, http.StatusInternalServerError, "Persistence Failure", err.Error())
	default:
		h.logger.Error("request failed", "path", c.Path(), "error", err)
		return writeError(c, http.StatusInternalServerError, "Internal Server Error", err.Error())
	}
}

// ProblemErrorHandler renders errors that escape handlers, such as unknown
// routes or rate limiting, as problem details.
func ProblemErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		detail := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if msg, ok := he.Message.(string); ok {
				detail = msg
			} else if e, ok := he.Message.(error); ok {
				detail = e.Error()
			}
		} else {
			logger.Error("unhandled error", "path", c.Request().URL.Path, "error", err)
		}
		if werr := writeError(c, status, http.StatusText(status), detail); werr != nil {
			logger.Error("failed to write error response", "error", werr)
		}
	}
}
