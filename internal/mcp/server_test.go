package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rca-orchestrator/backend/internal/repository"
	"rca-orchestrator/backend/internal/services"
	"rca-orchestrator/backend/pkg/models"
)

type fakeService struct {
	submitted models.AnomalyInput
	submitter string
	feedback  models.Feedback
}

func (f *fakeService) Submit(_ context.Context, in models.AnomalyInput, by string) (*services.SubmitResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	f.submitted = in
	f.submitter = by
	return &services.SubmitResult{WorkflowID: "wf-1", AnomalyID: in.AnomalyID, Status: models.StatusQueued}, nil
}

func (f *fakeService) GetStatus(_ context.Context, id string) (*services.StatusView, error) {
	if id != "wf-1" {
		return nil, fmt.Errorf("job %s: %w", id, repository.ErrNotFound)
	}
	return &services.StatusView{WorkflowID: id, Status: models.StatusCompleted, ResultAvailable: true}, nil
}

func (f *fakeService) GetResult(_ context.Context, id string) (*models.WorkflowState, error) {
	if id != "wf-1" {
		return nil, repository.ErrNotReady
	}
	return &models.WorkflowState{WorkflowID: id, RootCause: "Spindle bearing wear"}, nil
}

func (f *fakeService) SubmitFeedback(_ context.Context, id string, fb models.Feedback, by string) (*models.LearningUpdate, error) {
	f.feedback = fb
	return &models.LearningUpdate{WorkflowID: id, FeedbackProcessed: true}, nil
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestAnalyzeTool(t *testing.T) {
	svc := &fakeService{}
	s := NewServer(svc, "test")

	res, err := s.handleAnalyze(context.Background(), callTool("analyze_anomaly", map[string]any{
		"anomaly_id":           "AI4I_anomaly_7",
		"reconstruction_error": 0.42,
		"top_contributing_features": []any{
			map[string]any{"feature_name": "Torque [Nm]", "error": 0.2},
		},
		"severity": "critical",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(t, res))

	var out services.SubmitResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, "wf-1", out.WorkflowID)
	assert.Equal(t, "AI4I_anomaly_7", svc.submitted.AnomalyID)
	require.Len(t, svc.submitted.TopContributingFeatures, 1)
	assert.Equal(t, "Torque [Nm]", svc.submitted.TopContributingFeatures[0].FeatureName)
	assert.Equal(t, submitter, svc.submitter)
}

func TestAnalyzeTool_InvalidInput(t *testing.T) {
	s := NewServer(&fakeService{}, "test")

	res, err := s.handleAnalyze(context.Background(), callTool("analyze_anomaly", map[string]any{
		"top_contributing_features": []any{},
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "reconstruction_error is required")
}

func TestStatusAndResultTools(t *testing.T) {
	s := NewServer(&fakeService{}, "test")
	ctx := context.Background()

	res, err := s.handleStatus(ctx, callTool("get_workflow_status", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"status":"completed"`)

	res, err = s.handleStatus(ctx, callTool("get_workflow_status", map[string]any{"workflow_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not found")

	res, err = s.handleStatus(ctx, callTool("get_workflow_status", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleResult(ctx, callTool("get_workflow_result", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Spindle bearing wear")

	res, err = s.handleResult(ctx, callTool("get_workflow_result", map[string]any{"workflow_id": "running"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestFeedbackTool(t *testing.T) {
	svc := &fakeService{}
	s := NewServer(svc, "test")

	res, err := s.handleFeedback(context.Background(), callTool("submit_feedback", map[string]any{
		"workflow_id":       "wf-1",
		"feedback_type":     "incorrect",
		"actual_root_cause": "Coolant leak",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, models.VerdictIncorrect, svc.feedback.Verdict)
	assert.Equal(t, "Coolant leak", svc.feedback.ActualRootCause)

	res, err = s.handleFeedback(context.Background(), callTool("submit_feedback", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestToolsList(t *testing.T) {
	s := NewServer(&fakeService{}, "test")
	msg := s.GetMCPServer().HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	for _, name := range []string{"analyze_anomaly", "get_workflow_status", "get_workflow_result", "submit_feedback"} {
		assert.Contains(t, string(raw), name)
	}
}
