package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"rca-orchestrator/backend/pkg/models"
)

func newRecord(workflowID string, verdict models.Verdict, diagDelta float64) *models.LearningRecord {
	return &models.LearningRecord{
		WorkflowID: workflowID,
		AnomalyID:  "anomaly_" + workflowID[:8],
		Feedback: models.Feedback{
			Verdict:         verdict,
			Comments:        "checked on the floor",
			ActualRootCause: "Spindle bearing wear",
		},
		Adjustments: []models.Adjustment{
			{Stage: "diagnostic", UpdateType: "pattern", Description: "pattern", ConfidenceAdjustment: diagDelta},
			{Stage: "reasoning", UpdateType: "causal_model", Description: "causal", ConfidenceAdjustment: -0.1},
		},
		ReviewedBy: "reviewer@example.com",
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
}

// runLearningStoreSuite exercises the behaviour every LearningStore must share.
func runLearningStoreSuite(t *testing.T, store LearningStore) {
	ctx := context.Background()

	t.Run("Save and Get", func(t *testing.T) {
		rec := newRecord(uuid.New().String(), models.VerdictCorrect, 0.05)
		require.NoError(t, store.Save(ctx, rec))

		got, err := store.Get(ctx, rec.WorkflowID)
		require.NoError(t, err)
		assert.Equal(t, rec.WorkflowID, got.WorkflowID)
		assert.Equal(t, rec.AnomalyID, got.AnomalyID)
		assert.Equal(t, rec.Feedback, got.Feedback)
		assert.Equal(t, rec.Adjustments, got.Adjustments)
		assert.Equal(t, rec.ReviewedBy, got.ReviewedBy)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("Last write wins", func(t *testing.T) {
		id := uuid.New().String()
		require.NoError(t, store.Save(ctx, newRecord(id, models.VerdictCorrect, 0.05)))
		require.NoError(t, store.Save(ctx, newRecord(id, models.VerdictIncorrect, -0.08)))

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.VerdictIncorrect, got.Feedback.Verdict)
		assert.Equal(t, -0.08, got.ConfidenceAdjustments()["diagnostic"])
	})

	t.Run("Empty adjustments", func(t *testing.T) {
		rec := newRecord(uuid.New().String(), models.VerdictPartiallyCorrect, 0)
		rec.Adjustments = nil
		require.NoError(t, store.Save(ctx, rec))

		got, err := store.Get(ctx, rec.WorkflowID)
		require.NoError(t, err)
		assert.Empty(t, got.Adjustments)
	})

	t.Run("Unknown workflow", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestSQLiteLearningStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning.db")
	store, err := NewSQLiteLearningStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runLearningStoreSuite(t, store)

	t.Run("Reopen keeps records and migrations are idempotent", func(t *testing.T) {
		ctx := context.Background()
		rec := newRecord(uuid.New().String(), models.VerdictCorrect, 0.05)
		require.NoError(t, store.Save(ctx, rec))

		reopened, err := NewSQLiteLearningStore(path)
		require.NoError(t, err)
		defer reopened.Close()

		got, err := reopened.Get(ctx, rec.WorkflowID)
		require.NoError(t, err)
		assert.Equal(t, rec.Feedback.Verdict, got.Feedback.Verdict)
	})
}

func TestPostgresLearningStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}

	store := NewPostgresLearningStore(pool)
	defer store.Close()

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrate must be repeatable")

	runLearningStoreSuite(t, store)
}
