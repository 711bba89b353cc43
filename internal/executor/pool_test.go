package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rca-orchestrator/backend/internal/logging"
	"rca-orchestrator/backend/internal/pipeline"
	"rca-orchestrator/backend/internal/repository"
	"rca-orchestrator/backend/internal/scenario"
	"rca-orchestrator/backend/pkg/models"
)

func defaultPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	catalog, err := scenario.DefaultCatalog()
	require.NoError(t, err)
	return pipeline.New(pipeline.DefaultStages(scenario.NewSelector(catalog))...)
}

func queuedJob(t *testing.T, store repository.JobStore) *models.WorkflowJob {
	t.Helper()
	errVal := 0.39
	job := &models.WorkflowJob{
		ID:          uuid.New().String(),
		Status:      models.StatusQueued,
		SubmittedAt: time.Now().UTC(),
		Anomaly: models.AnomalyInput{
			AnomalyID:           "api_test_anomaly_1",
			ReconstructionError: &errVal,
			TopContributingFeatures: []models.FeatureContribution{
				{FeatureName: "Rotational speed [rpm]", Error: 0.19},
			},
			Severity: "high",
		},
	}
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func waitForStatus(t *testing.T, store repository.JobStore, id string, want models.WorkflowStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		status, err := store.GetStatus(context.Background(), id)
		return err == nil && status == want
	}, 5*time.Second, 5*time.Millisecond, "workflow %s never reached %s", id, want)
}

// blockingRunner holds every run until release is closed.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	r.started <- struct{}{}
	select {
	case <-r.release:
		state.RootCause = "released"
		return state, nil
	case <-ctx.Done():
		return state, ctx.Err()
	}
}

type runnerFunc func(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error)

func (f runnerFunc) Run(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	return f(ctx, state)
}

func TestPool_CompletesWorkflow(t *testing.T) {
	store := repository.NewMemoryJobStore()
	pool := NewPool(Config{Workers: 2, QueueSize: 4}, store, defaultPipeline(t), logging.NewNop())
	pool.Start(context.Background())
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	job := queuedJob(t, store)
	require.NoError(t, pool.Submit(job))
	waitForStatus(t, store, job.ID, models.StatusCompleted)

	result, err := store.GetResult(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, result.WorkflowID)
	assert.Equal(t, "api_test_anomaly_1", result.AnomalyID)
	assert.NotEmpty(t, result.FinalExplanation)
	assert.Equal(t, pipeline.StagePlanning, result.CurrentStage)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.StartedAt)
	assert.Empty(t, got.Error)
}

func TestPool_StageFailureMarksFailed(t *testing.T) {
	store := repository.NewMemoryJobStore()
	failing := pipeline.New(pipeline.StageFunc{
		StageName: pipeline.StageDiagnostic,
		Fn: func(ctx context.Context, s models.WorkflowState) (models.WorkflowState, error) {
			return s, errors.New("sensor feed unavailable")
		},
	})
	pool := NewPool(Config{Workers: 1}, store, failing, logging.NewNop())
	pool.Start(context.Background())
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	job := queuedJob(t, store)
	require.NoError(t, pool.Submit(job))
	waitForStatus(t, store, job.ID, models.StatusFailed)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "sensor feed unavailable", got.Error)
	assert.Nil(t, got.Result)

	_, err = store.GetResult(context.Background(), job.ID)
	assert.ErrorIs(t, err, repository.ErrNotReady)
}

func TestPool_PanicMarksFailed(t *testing.T) {
	store := repository.NewMemoryJobStore()
	panicking := runnerFunc(func(ctx context.Context, s models.WorkflowState) (models.WorkflowState, error) {
		panic("nil scenario")
	})
	pool := NewPool(Config{Workers: 1}, store, panicking, logging.NewNop())
	pool.Start(context.Background())
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	job := queuedJob(t, store)
	require.NoError(t, pool.Submit(job))
	waitForStatus(t, store, job.ID, models.StatusFailed)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Error, "panicked")

	// the worker survives the panic
	next := queuedJob(t, store)
	require.NoError(t, pool.Submit(next))
	waitForStatus(t, store, next.ID, models.StatusFailed)
}

func TestPool_QueueFull(t *testing.T) {
	store := repository.NewMemoryJobStore()
	runner := newBlockingRunner()
	pool := NewPool(Config{Workers: 1, QueueSize: 1}, store, runner, logging.NewNop())
	pool.Start(context.Background())

	first := queuedJob(t, store)
	require.NoError(t, pool.Submit(first))
	<-runner.started

	second := queuedJob(t, store)
	require.NoError(t, pool.Submit(second))
	assert.Equal(t, 1, pool.Stats().Queued)
	assert.Equal(t, 1, pool.Stats().InFlight)

	third := queuedJob(t, store)
	assert.ErrorIs(t, pool.Submit(third), ErrQueueFull)

	close(runner.release)
	waitForStatus(t, store, first.ID, models.StatusCompleted)
	waitForStatus(t, store, second.ID, models.StatusCompleted)
	require.NoError(t, pool.Stop(context.Background()))
}

func TestPool_StopDrainsQueue(t *testing.T) {
	store := repository.NewMemoryJobStore()
	pool := NewPool(Config{Workers: 2, QueueSize: 16}, store, defaultPipeline(t), logging.NewNop())
	pool.Start(context.Background())

	var ids []string
	for i := 0; i < 10; i++ {
		job := queuedJob(t, store)
		require.NoError(t, pool.Submit(job))
		ids = append(ids, job.ID)
	}
	require.NoError(t, pool.Stop(context.Background()))

	for _, id := range ids {
		status, err := store.GetStatus(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, status)
	}
	assert.ErrorIs(t, pool.Submit(queuedJob(t, store)), ErrPoolStopped)
	assert.Equal(t, Stats{Workers: 2}, pool.Stats())
}

func TestPool_StopDeadlineCancelsRunningWorkflows(t *testing.T) {
	store := repository.NewMemoryJobStore()
	runner := newBlockingRunner()
	pool := NewPool(Config{Workers: 1, QueueSize: 4}, store, runner, logging.NewNop())
	pool.Start(context.Background())

	running := queuedJob(t, store)
	waiting := queuedJob(t, store)
	require.NoError(t, pool.Submit(running))
	require.NoError(t, pool.Submit(waiting))
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Stop(ctx), context.DeadlineExceeded)

	got, err := store.Get(context.Background(), running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "context canceled")

	got, err = store.Get(context.Background(), waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Contains(t, got.Error, "executor stopped before workflow started")
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	store := repository.NewMemoryJobStore()
	pool := NewPool(Config{}, store, defaultPipeline(t), logging.NewNop())
	assert.ErrorIs(t, pool.Submit(queuedJob(t, store)), ErrPoolStopped)
	assert.NoError(t, pool.Stop(context.Background()))
}

// flakyStore fails the first n terminal writes.
type flakyStore struct {
	repository.JobStore
	failures atomic.Int32
}

func (s *flakyStore) SetResult(ctx context.Context, id string, status models.WorkflowStatus, result *models.WorkflowState, errMsg string) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return s.JobStore.SetResult(ctx, id, status, result, errMsg)
}

func TestPool_RetriesTerminalWrite(t *testing.T) {
	store := &flakyStore{JobStore: repository.NewMemoryJobStore()}
	store.failures.Store(2)

	pool := NewPool(Config{Workers: 1, TerminalWriteAttempts: 3, RetryBackoff: time.Millisecond}, store, defaultPipeline(t), logging.NewNop())
	pool.Start(context.Background())
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	job := queuedJob(t, store)
	require.NoError(t, pool.Submit(job))
	waitForStatus(t, store, job.ID, models.StatusCompleted)
}
