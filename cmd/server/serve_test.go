package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rca-orchestrator/backend/internal/config"
	"rca-orchestrator/backend/internal/logging"
	"rca-orchestrator/backend/internal/pipeline"
	"rca-orchestrator/backend/internal/scenario"
	"rca-orchestrator/backend/pkg/models"
)

type stubModel struct {
	mock.Mock
}

func (m *stubModel) InvokeStage(ctx context.Context, stage string, state models.WorkflowState) (models.WorkflowState, error) {
	args := m.Called(ctx, stage, state)
	return args.Get(0).(models.WorkflowState), args.Error(1)
}

func (m *stubModel) Ping(ctx context.Context) error {
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	return cfg
}

func TestBuildStages(t *testing.T) {
	cfg := testConfig(t)
	catalog, err := scenario.DefaultCatalog()
	require.NoError(t, err)
	sel := scenario.NewSelector(catalog)

	stages := buildStages(cfg, sel, nil, logging.NewNop())
	require.Len(t, stages, 3)
	assert.IsType(t, &pipeline.DiagnosticStage{}, stages[0])

	cfg.Pipeline.RemoteStages = []string{pipeline.StageReasoning, "unknown"}
	stages = buildStages(cfg, sel, new(stubModel), logging.NewNop())
	assert.IsType(t, &pipeline.RemoteStage{}, stages[1])
	assert.Equal(t, pipeline.StageReasoning, stages[1].Name())
	assert.IsType(t, &pipeline.PlanningStage{}, stages[2])

	cfg.Pipeline.SimulatedLatency = time.Millisecond
	stages = buildStages(cfg, sel, nil, logging.NewNop())
	assert.Equal(t, []string{pipeline.StageDiagnostic, pipeline.StageReasoning, pipeline.StagePlanning},
		pipeline.New(stages...).Stages())
	assert.IsType(t, pipeline.StageFunc{}, stages[0])
	assert.NotEmpty(t, stages[0].Provides())
}

func TestLoadCatalog(t *testing.T) {
	cfg := testConfig(t)
	catalog, err := loadCatalog(cfg)
	require.NoError(t, err)
	assert.Positive(t, catalog.Len())

	cfg.Pipeline.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = loadCatalog(cfg)
	assert.Error(t, err)
}

func TestMigrateSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.LearningStore.SQLitePath = filepath.Join(t.TempDir(), "learning.db")

	require.NoError(t, migrate(context.Background(), cfg, logging.NewNop()))
	require.NoError(t, migrate(context.Background(), cfg, logging.NewNop()))
	assert.FileExists(t, cfg.LearningStore.SQLitePath)
}
