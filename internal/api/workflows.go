package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"rca-orchestrator/backend/internal/auth"
	"rca-orchestrator/backend/pkg/models"
)

func principal(c echo.Context) string {
	if p, ok := auth.PrincipalFromContext(c.Request().Context()); ok {
		return p.Subject
	}
	return ""
}

// GetRoot describes the service
// (GET /)
func (h *Handler) GetRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, ServiceInfo{
		Service: "Multi-Agent RCA Workflow Service",
		Version: h.version,
		Status:  "operational",
		Endpoints: map[string]string{
			"analyze":  "/api/rca/analyze",
			"status":   "/api/rca/status/{workflow_id}",
			"result":   "/api/rca/result/{workflow_id}",
			"feedback": "/api/rca/feedback",
			"learning": "/api/rca/learning/{workflow_id}",
			"health":   "/api/agents/health",
			"metrics":  "/metrics",
			"docs":     "/docs",
		},
		Timestamp: timeNow(),
	})
}

// AnalyzeAnomaly submits an anomaly for root cause analysis
// (POST /api/rca/analyze)
func (h *Handler) AnalyzeAnomaly(c echo.Context) error {
	var in models.AnomalyInput
	if err := c.Bind(&in); err != nil {
		return writeError(c, http.StatusBadRequest, "Invalid Request", "invalid request body: "+bindMessage(err))
	}

	res, err := h.svc.Submit(c.Request().Context(), in, principal(c))
	if err != nil {
		return h.serviceError(c, err)
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/rca/status/"+res.WorkflowID)
	return c.JSON(http.StatusAccepted, res)
}

// GetWorkflowStatus reports the progress of a workflow
// (GET /api/rca/status/{workflow_id})
func (h *Handler) GetWorkflowStatus(c echo.Context, workflowID string) error {
	view, err := h.svc.GetStatus(c.Request().Context(), workflowID)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// GetWorkflowResult returns the final state of a completed workflow
// (GET /api/rca/result/{workflow_id})
func (h *Handler) GetWorkflowResult(c echo.Context, workflowID string) error {
	result, err := h.svc.GetResult(c.Request().Context(), workflowID)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// SubmitFeedback records a review of a workflow's result
// (POST /api/rca/feedback)
func (h *Handler) SubmitFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "Invalid Request", "invalid request body: "+bindMessage(err))
	}
	if strings.TrimSpace(req.WorkflowID) == "" {
		return writeError(c, http.StatusBadRequest, "Invalid Request", "workflow_id is required")
	}

	update, err := h.svc.SubmitFeedback(c.Request().Context(), req.WorkflowID, req.Feedback, principal(c))
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, update)
}

// GetLearningRecord returns the stored learning record for a workflow
// (GET /api/rca/learning/{workflow_id})
func (h *Handler) GetLearningRecord(c echo.Context, workflowID string) error {
	rec, err := h.svc.GetLearningRecord(c.Request().Context(), workflowID)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// GetAgentsHealth reports stage and dependency health (always returns 200 OK)
// (GET /api/agents/health)
func (h *Handler) GetAgentsHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Health(c.Request().Context()))
}

func bindMessage(err error) string {
	if he, ok := err.(*echo.HTTPError); ok {
		if msg, ok := he.Message.(string); ok {
			return msg
		}
	}
	return err.Error()
}
