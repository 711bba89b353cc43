package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rca-orchestrator/backend/pkg/models"
)

// learningSchema creates the learning_records table. It is safe to apply repeatedly.
const learningSchema = `
CREATE TABLE IF NOT EXISTS learning_records (
	workflow_id  TEXT PRIMARY KEY,
	anomaly_id   TEXT NOT NULL DEFAULT '',
	verdict      TEXT NOT NULL,
	feedback     JSONB NOT NULL,
	adjustments  JSONB NOT NULL DEFAULT '[]'::jsonb,
	reviewed_by  TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_learning_records_verdict ON learning_records (verdict);
`

// PostgresLearningStore is a PostgreSQL implementation of the LearningStore interface.
type PostgresLearningStore struct {
	db *pgxpool.Pool
}

// NewPostgresLearningStore creates a new PostgresLearningStore.
func NewPostgresLearningStore(db *pgxpool.Pool) *PostgresLearningStore {
	return &PostgresLearningStore{db: db}
}

// Migrate creates the tables the store needs.
func (s *PostgresLearningStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, learningSchema); err != nil {
		return fmt.Errorf("failed to apply learning schema: %w", err)
	}
	return nil
}

// Save upserts a learning record keyed by workflow id.
func (s *PostgresLearningStore) Save(ctx context.Context, rec *models.LearningRecord) error {
	feedback, adjustments, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO learning_records (workflow_id, anomaly_id, verdict, feedback, adjustments, reviewed_by, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7)
		ON CONFLICT (workflow_id) DO UPDATE SET
			anomaly_id  = EXCLUDED.anomaly_id,
			verdict     = EXCLUDED.verdict,
			feedback    = EXCLUDED.feedback,
			adjustments = EXCLUDED.adjustments,
			reviewed_by = EXCLUDED.reviewed_by,
			created_at  = EXCLUDED.created_at`,
		rec.WorkflowID, rec.AnomalyID, string(rec.Feedback.Verdict), string(feedback), string(adjustments),
		rec.ReviewedBy, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save learning record %s: %w", rec.WorkflowID, err)
	}
	return nil
}

// Get retrieves the learning record for a workflow.
func (s *PostgresLearningStore) Get(ctx context.Context, workflowID string) (*models.LearningRecord, error) {
	var (
		rec                   models.LearningRecord
		feedback, adjustments []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT workflow_id, anomaly_id, feedback::text, adjustments::text, reviewed_by, created_at
		FROM learning_records WHERE workflow_id = $1`, workflowID,
	).Scan(&rec.WorkflowID, &rec.AnomalyID, &feedback, &adjustments, &rec.ReviewedBy, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("learning record %s: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load learning record %s: %w", workflowID, err)
	}
	if err := decodeRecord(&rec, feedback, adjustments); err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

// Ping verifies the pool can reach the database.
func (s *PostgresLearningStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresLearningStore) Close() error {
	s.db.Close()
	return nil
}
