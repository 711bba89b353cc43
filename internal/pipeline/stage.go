// Package pipeline defines the stage contract for RCA workflows and runs
// stages strictly in order over an accumulating WorkflowState.
//
// A stage reads the state produced by earlier stages and returns an updated
// copy. After every stage the pipeline checks that the stage set each field it
// declares in Provides and did not clear any field set before it ran.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"rca-orchestrator/backend/internal/metrics"
	"rca-orchestrator/backend/pkg/models"
)

// Stage names.
const (
	StageDiagnostic = "diagnostic"
	StageReasoning  = "reasoning"
	StagePlanning   = "planning"
	StageLearning   = "learning"
)

// ErrContractViolation is returned when a stage does not honor its declared fields.
var ErrContractViolation = errors.New("stage contract violation")

// Stage is one named transformation step.
type Stage interface {
	// Name identifies the stage in logs, errors and metrics.
	Name() string
	// Provides lists the state fields the stage must set.
	Provides() []string
	// Run returns the updated state. It must not clear fields set by earlier stages.
	Run(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error)
}

// StageError wraps a failure raised by a stage. Error() is the stage's own message.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Pipeline executes stages in order.
type Pipeline struct {
	stages []Stage
}

// New creates a Pipeline from stages in execution order.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes every stage over state. The first stage failure aborts the run.
// Context cancellation is observed between stages.
func (p *Pipeline) Run(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	tracer := otel.Tracer("rca-orchestrator/pipeline")

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return state, &StageError{Stage: stage.Name(), Err: fmt.Errorf("workflow cancelled before %s stage: %w", stage.Name(), err)}
		}

		before := state.SetFields()
		stageCtx, span := tracer.Start(ctx, "stage."+stage.Name())
		start := time.Now()

		next, err := stage.Run(stageCtx, state.Clone())
		if err == nil {
			err = checkContract(stage, before, &next)
		}

		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("rca.workflow_id", state.WorkflowID))
		span.End()
		metrics.StageDuration.WithLabelValues(stage.Name(), status).Observe(time.Since(start).Seconds())

		if err != nil {
			return state, &StageError{Stage: stage.Name(), Err: err}
		}
		next.CurrentStage = stage.Name()
		state = next
	}
	return state, nil
}

func checkContract(stage Stage, before []string, next *models.WorkflowState) error {
	for _, f := range before {
		if !next.Has(f) {
			return fmt.Errorf("%w: %s stage cleared %s", ErrContractViolation, stage.Name(), f)
		}
	}
	for _, f := range stage.Provides() {
		if !next.Has(f) {
			return fmt.Errorf("%w: %s stage did not set %s", ErrContractViolation, stage.Name(), f)
		}
	}
	return nil
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fields    []string
	Fn        func(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error)
}

func (f StageFunc) Name() string       { return f.StageName }
func (f StageFunc) Provides() []string { return f.Fields }

func (f StageFunc) Run(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	return f.Fn(ctx, state)
}

// WithLatency delays a stage by d, simulating a slow upstream. Cancellation
// during the delay aborts the stage.
func WithLatency(stage Stage, d time.Duration) Stage {
	if d <= 0 {
		return stage
	}
	return StageFunc{
		StageName: stage.Name(),
		Fields:    stage.Provides(),
		Fn: func(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return state, ctx.Err()
			case <-timer.C:
			}
			return stage.Run(ctx, state)
		},
	}
}
