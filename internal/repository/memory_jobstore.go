package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rca-orchestrator/backend/pkg/models"
)

// MemoryJobStore keeps jobs in process memory. The index lock only guards
// membership; each job has its own lock so writers on different workflows
// never contend.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

type jobEntry struct {
	mu  sync.RWMutex
	job *models.WorkflowJob
}

// NewMemoryJobStore creates an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*jobEntry)}
}

// Create stores a new job.
func (s *MemoryJobStore) Create(ctx context.Context, job *models.WorkflowJob) error {
	if job.Status != models.StatusQueued {
		return fmt.Errorf("%w: new job must be %s, got %s", ErrInvalidTransition, models.StatusQueued, job.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, ErrAlreadyExists)
	}
	s.jobs[job.ID] = &jobEntry{job: job.Clone()}
	return nil
}

func (s *MemoryJobStore) entry(id string) (*jobEntry, error) {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// Get returns a deep copy of the job.
func (s *MemoryJobStore) Get(ctx context.Context, id string) (*models.WorkflowJob, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Clone(), nil
}

// GetStatus returns the job's current status.
func (s *MemoryJobStore) GetStatus(ctx context.Context, id string) (models.WorkflowStatus, error) {
	e, err := s.entry(id)
	if err != nil {
		return "", err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Status, nil
}

// GetResult returns a copy of the final state of a completed job.
func (s *MemoryJobStore) GetResult(ctx context.Context, id string) (*models.WorkflowState, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.job.Status != models.StatusCompleted || e.job.Result == nil {
		return nil, fmt.Errorf("job %s is %s: %w", id, e.job.Status, ErrNotReady)
	}
	result := e.job.Result.Clone()
	return &result, nil
}

// SetStatus moves a job to a non-terminal status.
func (s *MemoryJobStore) SetStatus(ctx context.Context, id string, status models.WorkflowStatus) error {
	if status.IsTerminal() {
		return fmt.Errorf("%w: terminal status %s must be written with its result", ErrInvalidTransition, status)
	}
	e, err := s.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.job.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.job.Status, status)
	}
	e.job.Status = status
	if status == models.StatusProcessing {
		now := time.Now().UTC()
		e.job.StartedAt = &now
	}
	return nil
}

// SetResult writes a terminal status and its result under the job's lock.
func (s *MemoryJobStore) SetResult(ctx context.Context, id string, status models.WorkflowStatus, result *models.WorkflowState, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	e, err := s.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.job.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.job.Status, status)
	}
	if result != nil {
		r := result.Clone()
		e.job.Result = &r
	}
	e.job.Error = errMsg
	now := time.Now().UTC()
	e.job.FinishedAt = &now
	e.job.Status = status
	return nil
}

// Ping always succeeds.
func (s *MemoryJobStore) Ping(ctx context.Context) error {
	return nil
}

// Close drops every job.
func (s *MemoryJobStore) Close() error {
	s.mu.Lock()
	s.jobs = make(map[string]*jobEntry)
	s.mu.Unlock()
	return nil
}
