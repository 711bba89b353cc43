package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rca-orchestrator/backend/pkg/models"
)

// HTTPModelClient is an HTTP implementation of the ModelClient interface.
type HTTPModelClient struct {
	url    string
	client *http.Client
}

// NewHTTPModelClient creates a new HTTPModelClient. A non-positive timeout means no timeout.
func NewHTTPModelClient(baseURL string, timeout time.Duration) *HTTPModelClient {
	return &HTTPModelClient{
		url:    strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// Ping checks the model service health endpoint.
func (c *HTTPModelClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service unhealthy: status code %d", resp.StatusCode)
	}
	return nil
}

// InvokeStage runs the named stage on the model service and returns the updated state.
func (c *HTTPModelClient) InvokeStage(ctx context.Context, stage string, state models.WorkflowState) (models.WorkflowState, error) {
	requestBody, err := json.Marshal(state)
	if err != nil {
		return state, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/stages/"+url.PathEscape(stage), bytes.NewBuffer(requestBody))
	if err != nil {
		return state, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return state, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return state, fmt.Errorf("status code %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out models.WorkflowState
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return state, fmt.Errorf("failed to decode response body: %w", err)
	}
	return out, nil
}
