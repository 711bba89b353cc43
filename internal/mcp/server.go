// Package mcp exposes the RCA workflow operations as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"rca-orchestrator/backend/internal/services"
	"rca-orchestrator/backend/pkg/models"
)

// submitter identifies workflows started over MCP.
const submitter = "mcp"

// WorkflowService is the subset of the workflow service the tools call.
type WorkflowService interface {
	Submit(ctx context.Context, in models.AnomalyInput, submittedBy string) (*services.SubmitResult, error)
	GetStatus(ctx context.Context, id string) (*services.StatusView, error)
	GetResult(ctx context.Context, id string) (*models.WorkflowState, error)
	SubmitFeedback(ctx context.Context, workflowID string, fb models.Feedback, reviewer string) (*models.LearningUpdate, error)
}

type Server struct {
	mcpServer *server.MCPServer
	svc       WorkflowService
}

func NewServer(svc WorkflowService, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"RCA Workflow Orchestrator",
			version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		svc: svc,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"analyze_anomaly",
			mcp.WithDescription("Start a root cause analysis workflow for a detected anomaly"),
			mcp.WithString("anomaly_id", mcp.Description("Caller-supplied anomaly identifier; generated when omitted")),
			mcp.WithNumber("reconstruction_error", mcp.Required(), mcp.Description("Reconstruction error reported by the detector")),
			mcp.WithArray("top_contributing_features", mcp.Required(),
				mcp.Description("Features ranked by contribution, each {feature_name, error}"),
				mcp.Items(map[string]any{"type": "object"}),
			),
			mcp.WithString("severity", mcp.Description("low, medium, high or critical")),
		),
		s.handleAnalyze,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow_status",
			mcp.WithDescription("Get the status of an RCA workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow ID returned by analyze_anomaly")),
		),
		s.handleStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow_result",
			mcp.WithDescription("Get the final analysis of a completed RCA workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow ID returned by analyze_anomaly")),
		),
		s.handleResult,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"submit_feedback",
			mcp.WithDescription("Review the result of a finished RCA workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow being reviewed")),
			mcp.WithString("feedback_type", mcp.Required(), mcp.Description("correct, partially_correct or incorrect"),
				mcp.Enum(string(models.VerdictCorrect), string(models.VerdictPartiallyCorrect), string(models.VerdictIncorrect))),
			mcp.WithString("comments", mcp.Description("Free-form reviewer notes")),
			mcp.WithString("actual_root_cause", mcp.Description("The root cause found on site, if different")),
			mcp.WithString("planning_effectiveness", mcp.Description("effective, partially_effective or ineffective")),
		),
		s.handleFeedback,
	)
}

func (s *Server) handleAnalyze(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	var in models.AnomalyInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid anomaly: %v", err)), nil
	}

	res, err := s.svc.Submit(ctx, in, submitter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start workflow: %v", err)), nil
	}
	return jsonResult(res)
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("workflow_id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	view, err := s.svc.GetStatus(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get status: %v", err)), nil
	}
	return jsonResult(view)
}

func (s *Server) handleResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("workflow_id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	result, err := s.svc.GetResult(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get result: %v", err)), nil
	}
	return jsonResult(result)
}

func (s *Server) handleFeedback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("workflow_id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	verdict, err := request.RequireString("feedback_type")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: feedback_type"), nil
	}

	fb := models.Feedback{
		Verdict:               models.Verdict(verdict),
		Comments:              request.GetString("comments", ""),
		ActualRootCause:       request.GetString("actual_root_cause", ""),
		PlanningEffectiveness: request.GetString("planning_effectiveness", ""),
	}
	update, err := s.svc.SubmitFeedback(ctx, id, fb, submitter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to submit feedback: %v", err)), nil
	}
	return jsonResult(update)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// SSE transport under /mcp/sse and /mcp/message
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
