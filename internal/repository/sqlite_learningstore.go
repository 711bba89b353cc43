package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"rca-orchestrator/backend/pkg/models"
)

var sqliteMigrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS learning_records (
    workflow_id  TEXT PRIMARY KEY,
    anomaly_id   TEXT NOT NULL DEFAULT '',
    verdict      TEXT NOT NULL,
    feedback     TEXT NOT NULL DEFAULT '{}',
    adjustments  TEXT NOT NULL DEFAULT '[]',
    reviewed_by  TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_learning_records_verdict ON learning_records(verdict);
`,
	},
}

// SQLiteLearningStore persists learning records in a local SQLite file.
type SQLiteLearningStore struct {
	db *sql.DB
}

// NewSQLiteLearningStore opens (creating if needed) the database at path and applies migrations.
func NewSQLiteLearningStore(path string) (*SQLiteLearningStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteLearningStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteLearningStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range sqliteMigrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Save upserts rec; a later record for the same workflow replaces the earlier one.
func (s *SQLiteLearningStore) Save(ctx context.Context, rec *models.LearningRecord) error {
	feedback, adjustments, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO learning_records(workflow_id, anomaly_id, verdict, feedback, adjustments, reviewed_by, created_at)
        VALUES(?,?,?,?,?,?,?)
        ON CONFLICT(workflow_id) DO UPDATE SET
            anomaly_id  = excluded.anomaly_id,
            verdict     = excluded.verdict,
            feedback    = excluded.feedback,
            adjustments = excluded.adjustments,
            reviewed_by = excluded.reviewed_by,
            created_at  = excluded.created_at
    `,
		rec.WorkflowID, rec.AnomalyID, string(rec.Feedback.Verdict), string(feedback), string(adjustments),
		rec.ReviewedBy, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save learning record %s: %w", rec.WorkflowID, err)
	}
	return nil
}

// Get returns the learning record for workflowID.
func (s *SQLiteLearningStore) Get(ctx context.Context, workflowID string) (*models.LearningRecord, error) {
	var (
		rec                   models.LearningRecord
		feedback, adjustments string
		createdAt             string
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT workflow_id, anomaly_id, feedback, adjustments, reviewed_by, created_at
        FROM learning_records WHERE workflow_id = ?`, workflowID,
	).Scan(&rec.WorkflowID, &rec.AnomalyID, &feedback, &adjustments, &rec.ReviewedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("learning record %s: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load learning record %s: %w", workflowID, err)
	}

	if err := decodeRecord(&rec, []byte(feedback), []byte(adjustments)); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at for %s: %w", workflowID, err)
	}
	return &rec, nil
}

// Ping verifies the database handle.
func (s *SQLiteLearningStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteLearningStore) Close() error {
	return s.db.Close()
}

func encodeRecord(rec *models.LearningRecord) (feedback, adjustments []byte, err error) {
	if feedback, err = json.Marshal(rec.Feedback); err != nil {
		return nil, nil, fmt.Errorf("marshal feedback: %w", err)
	}
	adj := rec.Adjustments
	if adj == nil {
		adj = []models.Adjustment{}
	}
	if adjustments, err = json.Marshal(adj); err != nil {
		return nil, nil, fmt.Errorf("marshal adjustments: %w", err)
	}
	return feedback, adjustments, nil
}

func decodeRecord(rec *models.LearningRecord, feedback, adjustments []byte) error {
	if err := json.Unmarshal(feedback, &rec.Feedback); err != nil {
		return fmt.Errorf("decode feedback for %s: %w", rec.WorkflowID, err)
	}
	if err := json.Unmarshal(adjustments, &rec.Adjustments); err != nil {
		return fmt.Errorf("decode adjustments for %s: %w", rec.WorkflowID, err)
	}
	return nil
}
