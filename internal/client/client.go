// Package client is a Go client for the RCA workflow HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rca-orchestrator/backend/internal/services"
	"rca-orchestrator/backend/pkg/models"
)

// ErrWorkflowFailed is returned by Wait when the workflow ends FAILED.
var ErrWorkflowFailed = errors.New("workflow failed")

// APIError is a non-2xx response decoded from its problem details body.
type APIError struct {
	StatusCode int
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Client calls the RCA service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client for baseURL. token, when set, is sent as a bearer token.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// FeedbackRequest is the body of a feedback submission.
type FeedbackRequest struct {
	WorkflowID string `json:"workflow_id"`
	AnomalyID  string `json:"anomaly_id,omitempty"`
	models.Feedback
}

func (c *Client) Analyze(ctx context.Context, in models.AnomalyInput) (*services.SubmitResult, error) {
	var out services.SubmitResult
	return &out, c.do(ctx, http.MethodPost, "/api/rca/analyze", in, &out)
}

func (c *Client) Status(ctx context.Context, workflowID string) (*services.StatusView, error) {
	var out services.StatusView
	return &out, c.do(ctx, http.MethodGet, "/api/rca/status/"+url.PathEscape(workflowID), nil, &out)
}

func (c *Client) Result(ctx context.Context, workflowID string) (*models.WorkflowState, error) {
	var out models.WorkflowState
	return &out, c.do(ctx, http.MethodGet, "/api/rca/result/"+url.PathEscape(workflowID), nil, &out)
}

func (c *Client) Feedback(ctx context.Context, req FeedbackRequest) (*models.LearningUpdate, error) {
	var out models.LearningUpdate
	return &out, c.do(ctx, http.MethodPost, "/api/rca/feedback", req, &out)
}

func (c *Client) Learning(ctx context.Context, workflowID string) (*models.LearningRecord, error) {
	var out models.LearningRecord
	return &out, c.do(ctx, http.MethodGet, "/api/rca/learning/"+url.PathEscape(workflowID), nil, &out)
}

func (c *Client) Health(ctx context.Context) (*services.HealthReport, error) {
	var out services.HealthReport
	return &out, c.do(ctx, http.MethodGet, "/api/agents/health", nil, &out)
}

// Wait polls the workflow status every interval until it is terminal, then
// returns the final result. A FAILED workflow yields ErrWorkflowFailed.
// onStatus, when set, is called after every poll.
func (c *Client) Wait(ctx context.Context, workflowID string, interval time.Duration, onStatus func(*services.StatusView)) (*models.WorkflowState, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := c.Status(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if onStatus != nil {
			onStatus(view)
		}
		switch view.Status {
		case models.StatusCompleted:
			return c.Result(ctx, workflowID)
		case models.StatusFailed:
			return nil, fmt.Errorf("%w: %s", ErrWorkflowFailed, view.Error)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("workflow %s still %s: %w", workflowID, view.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, apiErr) != nil || apiErr.Title == "" {
			apiErr.Title = http.StatusText(resp.StatusCode)
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
