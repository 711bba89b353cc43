package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"rca-orchestrator/backend/internal/executor"
	"rca-orchestrator/backend/internal/knowledge"
	"rca-orchestrator/backend/internal/logging"
	"rca-orchestrator/backend/internal/metrics"
	"rca-orchestrator/backend/internal/pipeline"
	"rca-orchestrator/backend/internal/repository"
	"rca-orchestrator/backend/pkg/models"
)

// ErrPersistence is returned when a learning record could not be stored.
var ErrPersistence = errors.New("failed to persist learning record")

const (
	healthOperational = "operational"
	healthDegraded    = "degraded"
)

// SubmitResult acknowledges an accepted workflow.
type SubmitResult struct {
	WorkflowID    string                `json:"workflow_id"`
	AnomalyID     string                `json:"anomaly_id"`
	Status        models.WorkflowStatus `json:"status"`
	Message       string                `json:"message"`
	EstimatedTime string                `json:"estimated_time"`
}

// StatusView is the polling view of a workflow.
type StatusView struct {
	WorkflowID      string                `json:"workflow_id"`
	Status          models.WorkflowStatus `json:"status"`
	Timestamp       time.Time             `json:"timestamp"`
	AnomalyID       string                `json:"anomaly_id,omitempty"`
	ResultAvailable bool                  `json:"result_available"`
	RootCause       string                `json:"root_cause,omitempty"`
	Error           string                `json:"error,omitempty"`
}

// HealthReport describes the service and its dependencies.
type HealthReport struct {
	Status    string            `json:"status"`
	Agents    map[string]string `json:"agents"`
	LLMStatus string            `json:"llm_status"`
	KGStatus  string            `json:"kg_status"`
	Stores    map[string]string `json:"stores"`
	Executor  *executor.Stats   `json:"executor,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Option configures optional WorkflowService collaborators.
type Option func(*WorkflowService)

// WithModelClient reports the upstream model service in health checks.
func WithModelClient(c ModelClient) Option {
	return func(s *WorkflowService) { s.model = c }
}

// WithKnowledgeBase reports knowledge availability in health checks.
func WithKnowledgeBase(kb KnowledgeBase) Option {
	return func(s *WorkflowService) { s.kb = kb }
}

// WithStages sets the stage names reported as agents.
func WithStages(names ...string) Option {
	return func(s *WorkflowService) { s.stages = names }
}

// WithEstimatedTime sets the completion estimate returned on submission.
func WithEstimatedTime(estimate string) Option {
	return func(s *WorkflowService) { s.estimatedTime = estimate }
}

// WorkflowService is the application layer over the job store, executor and learning loop.
type WorkflowService struct {
	jobs      repository.JobStore
	learning  repository.LearningStore
	submitter Submitter
	learner   pipeline.Learner
	logger    *logging.Logger

	model         ModelClient
	kb            KnowledgeBase
	stages        []string
	estimatedTime string

	adjustments metric.Float64Histogram
	now         func() time.Time
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(jobs repository.JobStore, learning repository.LearningStore, submitter Submitter, learner pipeline.Learner, logger *logging.Logger, opts ...Option) *WorkflowService {
	s := &WorkflowService{
		jobs:          jobs,
		learning:      learning,
		submitter:     submitter,
		learner:       learner,
		logger:        logger,
		stages:        []string{pipeline.StageDiagnostic, pipeline.StageReasoning, pipeline.StagePlanning},
		estimatedTime: "2-4 minutes",
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	hist, err := otel.Meter("rca-orchestrator/services").Float64Histogram("rca.feedback.confidence_adjustment",
		metric.WithDescription("Confidence adjustments produced by the learning stage"),
		metric.WithExplicitBucketBoundaries(-0.1, -0.08, -0.05, -0.01, 0, 0.01, 0.05, 0.1),
	)
	if err != nil {
		logger.Warn("failed to create adjustment histogram", "error", err)
	}
	s.adjustments = hist
	return s
}

// Submit validates an anomaly, stores it as QUEUED and hands it to the executor.
// When the executor refuses the job it is recorded as FAILED and the refusal is returned.
func (s *WorkflowService) Submit(ctx context.Context, in models.AnomalyInput, submittedBy string) (*SubmitResult, error) {
	if err := in.Validate(); err != nil {
		metrics.WorkflowsSubmitted.WithLabelValues("invalid").Inc()
		return nil, err
	}

	id := uuid.New().String()
	anomaly := in.Clone()
	if anomaly.AnomalyID == "" {
		anomaly.AnomalyID = "anomaly_" + id[:8]
	}
	job := &models.WorkflowJob{
		ID:          id,
		Status:      models.StatusQueued,
		SubmittedAt: s.now(),
		SubmittedBy: submittedBy,
		Anomaly:     anomaly,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		metrics.WorkflowsSubmitted.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to store workflow: %w", err)
	}

	if err := s.submitter.Submit(job); err != nil {
		metrics.WorkflowsSubmitted.WithLabelValues("rejected").Inc()
		if ferr := s.jobs.SetResult(ctx, id, models.StatusFailed, nil, err.Error()); ferr != nil {
			s.logger.Error("failed to record rejected workflow", "workflow_id", id, "error", ferr)
		}
		s.logger.Warn("workflow rejected", "workflow_id", id, "error", err)
		return nil, fmt.Errorf("workflow %s not started: %w", id, err)
	}

	metrics.WorkflowsSubmitted.WithLabelValues("accepted").Inc()
	s.logger.Info("workflow queued", "workflow_id", id, "anomaly_id", anomaly.AnomalyID, "submitted_by", submittedBy)
	return &SubmitResult{
		WorkflowID:    id,
		AnomalyID:     anomaly.AnomalyID,
		Status:        models.StatusQueued,
		Message:       "RCA workflow started. Check status endpoint for progress.",
		EstimatedTime: s.estimatedTime,
	}, nil
}

// GetStatus returns the polling view of a workflow.
func (s *WorkflowService) GetStatus(ctx context.Context, id string) (*StatusView, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &StatusView{
		WorkflowID: job.ID,
		Status:     job.Status,
		Timestamp:  s.now(),
		AnomalyID:  job.Anomaly.AnomalyID,
	}
	switch job.Status {
	case models.StatusCompleted:
		if job.Result != nil {
			view.ResultAvailable = true
			view.RootCause = job.Result.RootCause
		}
	case models.StatusFailed:
		view.Error = job.Error
	}
	return view, nil
}

// GetResult returns the final state of a completed workflow.
func (s *WorkflowService) GetResult(ctx context.Context, id string) (*models.WorkflowState, error) {
	return s.jobs.GetResult(ctx, id)
}

// SubmitFeedback runs the learning stage over a finished workflow and stores the outcome.
// Feedback on a workflow that has not finished yet is refused with ErrNotReady.
func (s *WorkflowService) SubmitFeedback(ctx context.Context, workflowID string, fb models.Feedback, reviewer string) (*models.LearningUpdate, error) {
	if err := fb.Validate(); err != nil {
		metrics.FeedbackTotal.WithLabelValues(string(fb.Verdict), "invalid").Inc()
		return nil, err
	}

	job, err := s.jobs.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsTerminal() {
		return nil, fmt.Errorf("workflow %s is %s: %w", workflowID, job.Status, repository.ErrNotReady)
	}

	state := models.WorkflowState{
		WorkflowID:  job.ID,
		AnomalyID:   job.Anomaly.AnomalyID,
		AnomalyData: job.Anomaly,
	}
	if job.Result != nil {
		state = *job.Result
	}

	ctx, span := otel.Tracer("rca-orchestrator/services").Start(ctx, "stage."+pipeline.StageLearning)
	defer span.End()
	span.SetAttributes(attribute.String("rca.workflow_id", workflowID), attribute.String("rca.verdict", string(fb.Verdict)))

	adjustments, err := s.learner.Learn(ctx, state, fb)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.FeedbackTotal.WithLabelValues(string(fb.Verdict), "error").Inc()
		return nil, &pipeline.StageError{Stage: pipeline.StageLearning, Err: err}
	}

	rec := &models.LearningRecord{
		WorkflowID:  workflowID,
		AnomalyID:   state.AnomalyID,
		Feedback:    fb,
		Adjustments: adjustments,
		ReviewedBy:  reviewer,
		CreatedAt:   s.now(),
	}
	if err := s.learning.Save(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.FeedbackTotal.WithLabelValues(string(fb.Verdict), "error").Inc()
		s.logger.Error("failed to save learning record", "workflow_id", workflowID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if s.adjustments != nil {
		for _, a := range adjustments {
			s.adjustments.Record(ctx, a.ConfidenceAdjustment, metric.WithAttributes(attribute.String("stage", a.Stage)))
		}
	}
	metrics.FeedbackTotal.WithLabelValues(string(fb.Verdict), "processed").Inc()
	s.logger.Info("feedback processed", "workflow_id", workflowID, "verdict", fb.Verdict, "reviewed_by", reviewer)

	return &models.LearningUpdate{
		WorkflowID:            workflowID,
		FeedbackProcessed:     true,
		LearningUpdates:       adjustments,
		ConfidenceAdjustments: rec.ConfidenceAdjustments(),
		Timestamp:             rec.CreatedAt,
	}, nil
}

// GetLearningRecord returns the stored learning record for a workflow.
func (s *WorkflowService) GetLearningRecord(ctx context.Context, workflowID string) (*models.LearningRecord, error) {
	return s.learning.Get(ctx, workflowID)
}

// Health checks every dependency. It never fails; problems show up as a degraded status.
func (s *WorkflowService) Health(ctx context.Context) *HealthReport {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	report := &HealthReport{
		Status:    healthOperational,
		Agents:    make(map[string]string, len(s.stages)+1),
		LLMStatus: knowledge.StatusNotConfigured,
		KGStatus:  knowledge.StatusNotConfigured,
		Stores:    make(map[string]string, 2),
		Timestamp: s.now(),
	}
	for _, name := range s.stages {
		report.Agents[name] = healthOperational
	}
	report.Agents[pipeline.StageLearning] = healthOperational

	if s.model != nil {
		report.LLMStatus = pingStatus(s.model.Ping(ctx))
	}
	if s.kb != nil {
		report.KGStatus = s.kb.Status()
	}
	report.Stores["job_store"] = pingStatus(s.jobs.Ping(ctx))
	report.Stores["learning_store"] = pingStatus(s.learning.Ping(ctx))

	if st, ok := s.submitter.(interface{ Stats() executor.Stats }); ok {
		stats := st.Stats()
		report.Executor = &stats
	}

	for _, v := range []string{report.LLMStatus, report.KGStatus, report.Stores["job_store"], report.Stores["learning_store"]} {
		if v != healthOperational && v != knowledge.StatusNotConfigured {
			report.Status = healthDegraded
		}
	}
	return report
}

func pingStatus(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return healthOperational
}
