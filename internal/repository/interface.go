package repository

import (
	"context"
	"errors"

	"rca-orchestrator/backend/pkg/models"
)

var (
	// ErrNotFound is returned when no record exists for an identifier.
	ErrNotFound = errors.New("not found")
	// ErrNotReady is returned when a workflow result is requested before the workflow completed.
	ErrNotReady = errors.New("workflow not completed")
	// ErrAlreadyExists is returned when creating a job with an identifier already in use.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidTransition is returned when a status change would break monotonicity.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// JobStore is the authoritative mapping from workflow identifier to status and result.
// Implementations serialize writers per identifier; a reader never observes a
// terminal status without the matching result.
type JobStore interface {
	// Create stores a new job. The job's status must be QUEUED.
	Create(ctx context.Context, job *models.WorkflowJob) error
	// Get returns a snapshot of the job.
	Get(ctx context.Context, id string) (*models.WorkflowJob, error)
	// GetStatus returns the job's current status.
	GetStatus(ctx context.Context, id string) (models.WorkflowStatus, error)
	// GetResult returns the final state of a COMPLETED job, ErrNotReady otherwise.
	GetResult(ctx context.Context, id string) (*models.WorkflowState, error)
	// SetStatus moves a job to a non-terminal status.
	SetStatus(ctx context.Context, id string, status models.WorkflowStatus) error
	// SetResult atomically writes a terminal status together with its result or error message.
	SetResult(ctx context.Context, id string, status models.WorkflowStatus, result *models.WorkflowState, errMsg string) error
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// LearningStore persists learning records keyed by workflow identifier.
type LearningStore interface {
	// Save writes rec, replacing any earlier record for the same workflow.
	Save(ctx context.Context, rec *models.LearningRecord) error
	// Get returns the record for a workflow.
	Get(ctx context.Context, workflowID string) (*models.LearningRecord, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}
