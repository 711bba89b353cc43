package pipeline

import (
	"context"
	"fmt"

	"rca-orchestrator/backend/pkg/models"
)

// StageInvoker runs a named stage on an upstream model service.
type StageInvoker interface {
	InvokeStage(ctx context.Context, stage string, state models.WorkflowState) (models.WorkflowState, error)
}

// RemoteStage delegates a stage to an upstream model service while keeping the
// local stage's declared fields as its contract.
type RemoteStage struct {
	name     string
	provides []string
	invoker  StageInvoker
}

// NewRemoteStage replaces local with a stage executed by invoker under the same name and contract.
func NewRemoteStage(local Stage, invoker StageInvoker) *RemoteStage {
	return &RemoteStage{name: local.Name(), provides: local.Provides(), invoker: invoker}
}

func (s *RemoteStage) Name() string       { return s.name }
func (s *RemoteStage) Provides() []string { return s.provides }

func (s *RemoteStage) Run(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	out, err := s.invoker.InvokeStage(ctx, s.name, state)
	if err != nil {
		return state, fmt.Errorf("remote %s stage: %w", s.name, err)
	}
	// identity fields are owned by the engine
	out.WorkflowID = state.WorkflowID
	out.AnomalyID = state.AnomalyID
	out.AnomalyData = state.AnomalyData
	return out, nil
}
