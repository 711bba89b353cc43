package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rca-orchestrator/backend/internal/executor"
	"rca-orchestrator/backend/internal/knowledge"
	"rca-orchestrator/backend/internal/logging"
	"rca-orchestrator/backend/internal/pipeline"
	"rca-orchestrator/backend/internal/repository"
	"rca-orchestrator/backend/internal/scenario"
	"rca-orchestrator/backend/pkg/models"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(job *models.WorkflowJob) error {
	args := m.Called(job)
	return args.Error(0)
}

type mockModelClient struct {
	mock.Mock
}

func (m *mockModelClient) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockModelClient) InvokeStage(ctx context.Context, stage string, state models.WorkflowState) (models.WorkflowState, error) {
	args := m.Called(ctx, stage, state)
	return args.Get(0).(models.WorkflowState), args.Error(1)
}

type mockLearningStore struct {
	mock.Mock
}

func (m *mockLearningStore) Save(ctx context.Context, rec *models.LearningRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockLearningStore) Get(ctx context.Context, workflowID string) (*models.LearningRecord, error) {
	args := m.Called(ctx, workflowID)
	rec, _ := args.Get(0).(*models.LearningRecord)
	return rec, args.Error(1)
}

func (m *mockLearningStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockLearningStore) Close() error {
	return nil
}

func scenarioOneInput() models.AnomalyInput {
	errVal := 0.39
	return models.AnomalyInput{
		AnomalyID:           "api_test_anomaly_1",
		ReconstructionError: &errVal,
		TopContributingFeatures: []models.FeatureContribution{
			{FeatureName: "Rotational speed [rpm]", Error: 0.19},
		},
		Severity: "high",
	}
}

func sqliteStore(t *testing.T) *repository.SQLiteLearningStore {
	t.Helper()
	store, err := repository.NewSQLiteLearningStore(filepath.Join(t.TempDir(), "learning.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newRunningService wires the service to a real executor and the default pipeline.
func newRunningService(t *testing.T) (*WorkflowService, repository.JobStore) {
	t.Helper()
	catalog, err := scenario.DefaultCatalog()
	require.NoError(t, err)

	jobs := repository.NewMemoryJobStore()
	pool := executor.NewPool(executor.Config{Workers: 2, QueueSize: 8}, jobs,
		pipeline.New(pipeline.DefaultStages(scenario.NewSelector(catalog))...), logging.NewNop())
	pool.Start(context.Background())
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	return NewWorkflowService(jobs, sqliteStore(t), pool, pipeline.NewFeedbackLearner(), logging.NewNop()), jobs
}

func waitCompleted(t *testing.T, svc *WorkflowService, id string) *StatusView {
	t.Helper()
	var view *StatusView
	require.Eventually(t, func() bool {
		v, err := svc.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		view = v
		return v.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return view
}

func TestWorkflowService_SubmitAndComplete(t *testing.T) {
	svc, _ := newRunningService(t)
	ctx := context.Background()

	res, err := svc.Submit(ctx, scenarioOneInput(), "analyst@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, res.Status)
	assert.Equal(t, "api_test_anomaly_1", res.AnomalyID)
	assert.NotEmpty(t, res.EstimatedTime)

	view := waitCompleted(t, svc, res.WorkflowID)
	assert.Equal(t, models.StatusCompleted, view.Status)
	assert.True(t, view.ResultAvailable)
	assert.NotEmpty(t, view.RootCause)
	assert.Equal(t, "api_test_anomaly_1", view.AnomalyID)

	result, err := svc.GetResult(ctx, res.WorkflowID)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Symptoms)
	assert.Equal(t, view.RootCause, result.RootCause)
	for _, c := range []float64{result.DiagnosticConfidence, result.ReasoningConfidence, result.PlanningConfidence} {
		assert.GreaterOrEqual(t, c, 0.70)
		assert.LessOrEqual(t, c, 0.95)
	}

	again, err := svc.GetResult(ctx, res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, result, again)
}

func TestWorkflowService_GeneratesAnomalyID(t *testing.T) {
	sub := new(mockSubmitter)
	sub.On("Submit", mock.Anything).Return(nil)
	svc := NewWorkflowService(repository.NewMemoryJobStore(), sqliteStore(t), sub, pipeline.NewFeedbackLearner(), logging.NewNop())

	in := scenarioOneInput()
	in.AnomalyID = ""
	res, err := svc.Submit(context.Background(), in, "")
	require.NoError(t, err)
	assert.Equal(t, "anomaly_"+res.WorkflowID[:8], res.AnomalyID)
}

func TestWorkflowService_UnknownWorkflow(t *testing.T) {
	svc := NewWorkflowService(repository.NewMemoryJobStore(), sqliteStore(t), new(mockSubmitter), pipeline.NewFeedbackLearner(), logging.NewNop())
	ctx := context.Background()

	_, err := svc.GetStatus(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = svc.GetResult(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = svc.SubmitFeedback(ctx, "missing", models.Feedback{Verdict: models.VerdictCorrect}, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = svc.GetLearningRecord(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWorkflowService_ResultNotReady(t *testing.T) {
	sub := new(mockSubmitter)
	sub.On("Submit", mock.Anything).Return(nil)
	svc := NewWorkflowService(repository.NewMemoryJobStore(), sqliteStore(t), sub, pipeline.NewFeedbackLearner(), logging.NewNop())
	ctx := context.Background()

	res, err := svc.Submit(ctx, scenarioOneInput(), "")
	require.NoError(t, err)

	_, err = svc.GetResult(ctx, res.WorkflowID)
	assert.ErrorIs(t, err, repository.ErrNotReady)

	_, err = svc.SubmitFeedback(ctx, res.WorkflowID, models.Feedback{Verdict: models.VerdictCorrect}, "")
	assert.ErrorIs(t, err, repository.ErrNotReady)
	sub.AssertExpectations(t)
}

func TestWorkflowService_ValidationCreatesNoJob(t *testing.T) {
	sub := new(mockSubmitter)
	svc := NewWorkflowService(repository.NewMemoryJobStore(), sqliteStore(t), sub, pipeline.NewFeedbackLearner(), logging.NewNop())

	in := scenarioOneInput()
	in.ReconstructionError = nil
	in.Severity = "catastrophic"
	_, err := svc.Submit(context.Background(), in, "")

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 2)
	sub.AssertNotCalled(t, "Submit", mock.Anything)
}

func TestWorkflowService_QueueFullRecordsFailure(t *testing.T) {
	jobs := repository.NewMemoryJobStore()
	sub := new(mockSubmitter)
	var submitted *models.WorkflowJob
	sub.On("Submit", mock.Anything).Run(func(args mock.Arguments) {
		submitted = args.Get(0).(*models.WorkflowJob)
	}).Return(executor.ErrQueueFull)
	svc := NewWorkflowService(jobs, sqliteStore(t), sub, pipeline.NewFeedbackLearner(), logging.NewNop())

	_, err := svc.Submit(context.Background(), scenarioOneInput(), "")
	assert.ErrorIs(t, err, executor.ErrQueueFull)

	require.NotNil(t, submitted)
	job, err := jobs.Get(context.Background(), submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, executor.ErrQueueFull.Error(), job.Error)
}

func TestWorkflowService_FeedbackOnCompletedWorkflow(t *testing.T) {
	svc, _ := newRunningService(t)
	ctx := context.Background()

	res, err := svc.Submit(ctx, scenarioOneInput(), "")
	require.NoError(t, err)
	waitCompleted(t, svc, res.WorkflowID)

	update, err := svc.SubmitFeedback(ctx, res.WorkflowID, models.Feedback{Verdict: models.VerdictCorrect, Comments: "matches floor inspection"}, "reviewer@example.com")
	require.NoError(t, err)
	assert.True(t, update.FeedbackProcessed)
	require.NotEmpty(t, update.LearningUpdates)
	for _, a := range update.LearningUpdates {
		assert.NotEmpty(t, a.Stage)
		assert.LessOrEqual(t, a.ConfidenceAdjustment, 0.10)
		assert.GreaterOrEqual(t, a.ConfidenceAdjustment, -0.10)
	}
	assert.Equal(t, 0.05, update.ConfidenceAdjustments[pipeline.StageDiagnostic])

	rec, err := svc.GetLearningRecord(ctx, res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "api_test_anomaly_1", rec.AnomalyID)
	assert.Equal(t, "reviewer@example.com", rec.ReviewedBy)
	assert.Equal(t, update.LearningUpdates, rec.Adjustments)

	// a second review replaces the first
	_, err = svc.SubmitFeedback(ctx, res.WorkflowID, models.Feedback{Verdict: models.VerdictIncorrect}, "lead@example.com")
	require.NoError(t, err)
	rec, err = svc.GetLearningRecord(ctx, res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictIncorrect, rec.Feedback.Verdict)
	assert.Equal(t, "lead@example.com", rec.ReviewedBy)
}

func TestWorkflowService_FeedbackOnFailedWorkflow(t *testing.T) {
	jobs := repository.NewMemoryJobStore()
	sub := new(mockSubmitter)
	sub.On("Submit", mock.Anything).Return(nil)
	svc := NewWorkflowService(jobs, sqliteStore(t), sub, pipeline.NewFeedbackLearner(), logging.NewNop())
	ctx := context.Background()

	res, err := svc.Submit(ctx, scenarioOneInput(), "")
	require.NoError(t, err)
	require.NoError(t, jobs.SetStatus(ctx, res.WorkflowID, models.StatusProcessing))
	require.NoError(t, jobs.SetResult(ctx, res.WorkflowID, models.StatusFailed, nil, "rule engine unavailable"))

	view, err := svc.GetStatus(ctx, res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "rule engine unavailable", view.Error)
	assert.False(t, view.ResultAvailable)

	update, err := svc.SubmitFeedback(ctx, res.WorkflowID, models.Feedback{Verdict: models.VerdictIncorrect}, "")
	require.NoError(t, err)
	assert.Len(t, update.LearningUpdates, 3)
}

func TestWorkflowService_FeedbackValidationAndPersistence(t *testing.T) {
	jobs := repository.NewMemoryJobStore()
	sub := new(mockSubmitter)
	sub.On("Submit", mock.Anything).Return(nil)
	learning := new(mockLearningStore)
	learning.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	svc := NewWorkflowService(jobs, learning, sub, pipeline.NewFeedbackLearner(), logging.NewNop())
	ctx := context.Background()

	res, err := svc.Submit(ctx, scenarioOneInput(), "")
	require.NoError(t, err)
	require.NoError(t, jobs.SetResult(ctx, res.WorkflowID, models.StatusFailed, nil, "boom"))

	_, err = svc.SubmitFeedback(ctx, res.WorkflowID, models.Feedback{Verdict: "maybe"}, "")
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = svc.SubmitFeedback(ctx, res.WorkflowID, models.Feedback{Verdict: models.VerdictCorrect}, "")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorContains(t, err, "disk full")
}

func TestWorkflowService_Health(t *testing.T) {
	jobs := repository.NewMemoryJobStore()
	learning := new(mockLearningStore)
	learning.On("Ping", mock.Anything).Return(nil)

	model := new(mockModelClient)
	model.On("Ping", mock.Anything).Return(nil).Once()
	model.On("Ping", mock.Anything).Return(errors.New("connection refused"))

	kb, err := knowledge.Load("")
	require.NoError(t, err)

	svc := NewWorkflowService(jobs, learning, new(mockSubmitter), pipeline.NewFeedbackLearner(), logging.NewNop(),
		WithModelClient(model), WithKnowledgeBase(kb))

	report := svc.Health(context.Background())
	assert.Equal(t, "operational", report.Status)
	assert.Equal(t, "operational", report.LLMStatus)
	assert.Equal(t, knowledge.StatusNotConfigured, report.KGStatus)
	assert.Equal(t, map[string]string{
		"diagnostic": "operational", "reasoning": "operational", "planning": "operational", "learning": "operational",
	}, report.Agents)
	assert.Equal(t, "operational", report.Stores["job_store"])
	assert.Nil(t, report.Executor)

	report = svc.Health(context.Background())
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, "error: connection refused", report.LLMStatus)
}

func TestWorkflowService_HealthReportsExecutor(t *testing.T) {
	svc, _ := newRunningService(t)
	report := svc.Health(context.Background())
	require.NotNil(t, report.Executor)
	assert.Equal(t, 2, report.Executor.Workers)
	assert.Equal(t, "operational", report.Status)
}
