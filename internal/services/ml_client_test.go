package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rca-orchestrator/backend/pkg/models"
)

func TestHTTPModelClient_Ping(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPModelClient(server.URL+"/", time.Second)
	assert.NoError(t, client.Ping(context.Background()))

	healthy = false
	assert.EqualError(t, client.Ping(context.Background()), "model service unhealthy: status code 503")
}

func TestHTTPModelClient_InvokeStage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var state models.WorkflowState
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&state))

		switch r.URL.Path {
		case "/stages/reasoning":
			state.RootCause = "Coolant pump cavitation"
			state.CausalChain = []string{"pump", "heat", "failure"}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(state)
		default:
			http.Error(w, "unknown stage", http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewHTTPModelClient(server.URL, time.Second)
	in := models.WorkflowState{WorkflowID: "wf-1", Symptoms: []string{"Overheating"}}

	out, err := client.InvokeStage(context.Background(), "reasoning", in)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", out.WorkflowID)
	assert.Equal(t, "Coolant pump cavitation", out.RootCause)
	assert.Equal(t, []string{"Overheating"}, out.Symptoms)

	_, err = client.InvokeStage(context.Background(), "planning", in)
	assert.EqualError(t, err, "status code 404: unknown stage")
}

func TestHTTPModelClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewHTTPModelClient(url, 100*time.Millisecond)
	assert.ErrorContains(t, client.Ping(context.Background()), "failed to make request")
}
