package services

import (
	"context"

	"rca-orchestrator/backend/internal/pipeline"
	"rca-orchestrator/backend/pkg/models"
)

// ModelClient is an interface for communicating with the upstream model service.
type ModelClient interface {
	pipeline.StageInvoker
	// Ping checks that the model service is reachable.
	Ping(ctx context.Context) error
}

// Submitter hands a stored QUEUED job to background execution.
type Submitter interface {
	Submit(job *models.WorkflowJob) error
}

// KnowledgeBase reports whether domain knowledge is available to the stages.
type KnowledgeBase interface {
	Status() string
}
