package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/oapi-codegen/runtime"
	"golang.org/x/time/rate"

	"rca-orchestrator/backend/internal/auth"
)

var timeNow = func() time.Time { return time.Now().UTC() }

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /)
	GetRoot(ctx echo.Context) error
	// (POST /api/rca/analyze)
	AnalyzeAnomaly(ctx echo.Context) error
	// (GET /api/rca/status/{workflow_id})
	GetWorkflowStatus(ctx echo.Context, workflowID string) error
	// (GET /api/rca/result/{workflow_id})
	GetWorkflowResult(ctx echo.Context, workflowID string) error
	// (POST /api/rca/feedback)
	SubmitFeedback(ctx echo.Context) error
	// (GET /api/rca/learning/{workflow_id})
	GetLearningRecord(ctx echo.Context, workflowID string) error
	// (GET /api/agents/health)
	GetAgentsHealth(ctx echo.Context) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) workflowID(ctx echo.Context) (string, error) {
	var workflowID string
	err := runtime.BindStyledParameterWithOptions("simple", "workflow_id", ctx.Param("workflow_id"), &workflowID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter workflow_id: %s", err))
	}
	return workflowID, nil
}

// GetWorkflowStatus converts echo context to params.
func (w *ServerInterfaceWrapper) GetWorkflowStatus(ctx echo.Context) error {
	id, err := w.workflowID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetWorkflowStatus(ctx, id)
}

// GetWorkflowResult converts echo context to params.
func (w *ServerInterfaceWrapper) GetWorkflowResult(ctx echo.Context) error {
	id, err := w.workflowID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetWorkflowResult(ctx, id)
}

// GetLearningRecord converts echo context to params.
func (w *ServerInterfaceWrapper) GetLearningRecord(ctx echo.Context) error {
	id, err := w.workflowID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetLearningRecord(ctx, id)
}

// EchoRouter is the subset of echo used to register routes.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RouteOptions attaches middleware to the workflow routes.
type RouteOptions struct {
	// Auth runs before every /api/rca route.
	Auth []echo.MiddlewareFunc
	// SubmitLimiter runs before POST /api/rca/analyze.
	SubmitLimiter echo.MiddlewareFunc
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface, opts RouteOptions) {
	wrapper := ServerInterfaceWrapper{Handler: si}

	read := append(append([]echo.MiddlewareFunc{}, opts.Auth...), RequireScope(auth.ScopeRCARead))
	write := append(append([]echo.MiddlewareFunc{}, opts.Auth...), RequireScope(auth.ScopeRCAWrite))
	submit := write
	if opts.SubmitLimiter != nil {
		submit = append([]echo.MiddlewareFunc{opts.SubmitLimiter}, write...)
	}

	router.GET("/", si.GetRoot)
	router.GET("/api/agents/health", si.GetAgentsHealth)
	router.POST("/api/rca/analyze", si.AnalyzeAnomaly, submit...)
	router.GET("/api/rca/status/:workflow_id", wrapper.GetWorkflowStatus, read...)
	router.GET("/api/rca/result/:workflow_id", wrapper.GetWorkflowResult, read...)
	router.POST("/api/rca/feedback", si.SubmitFeedback, write...)
	router.GET("/api/rca/learning/:workflow_id", wrapper.GetLearningRecord, read...)
}

// RequireScope rejects authenticated callers that lack scope. Requests without
// a principal pass through; that only happens when authentication is disabled.
func RequireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := auth.PrincipalFromContext(c.Request().Context())
			if ok && !p.HasScope(scope) {
				return echo.NewHTTPError(http.StatusForbidden, "missing scope "+scope)
			}
			return next(c)
		}
	}
}

// SubmitRateLimiter limits submissions per client IP. A non-positive rate disables it.
func SubmitRateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond) + 1
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			c.Response().Header().Set("Retry-After", "1")
			return echo.NewHTTPError(http.StatusTooManyRequests, "submission rate exceeded")
		},
	})
}
