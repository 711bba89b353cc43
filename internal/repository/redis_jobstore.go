package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rca-orchestrator/backend/pkg/models"
)

// createScript stores a job hash only if the key does not exist yet.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'job', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then redis.call('PEXPIRE', KEYS[1], ttl) end
return 1
`)

// transitionScript checks the current status against the allowed source
// statuses (ARGV[2..n+1]) and then writes the remaining field/value pairs in
// one step, so status and result become visible together.
var transitionScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then return -1 end
local n = tonumber(ARGV[1])
local allowed = false
for i = 2, n + 1 do
  if ARGV[i] == cur then allowed = true end
end
if not allowed then return 0 end
for i = n + 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

var allStatuses = []models.WorkflowStatus{
	models.StatusQueued, models.StatusProcessing, models.StatusCompleted, models.StatusFailed,
}

// RedisJobStore keeps one Redis hash per job.
type RedisJobStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisJobStore creates a RedisJobStore. Keys are prefix+id and expire after
// ttl when ttl is positive.
func NewRedisJobStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisJobStore {
	if prefix == "" {
		prefix = "rca:job:"
	}
	return &RedisJobStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisJobStore) key(id string) string {
	return s.prefix + id
}

// Create stores a new job.
func (s *RedisJobStore) Create(ctx context.Context, job *models.WorkflowJob) error {
	if job.Status != models.StatusQueued {
		return fmt.Errorf("%w: new job must be %s, got %s", ErrInvalidTransition, models.StatusQueued, job.Status)
	}
	meta := job.Clone()
	meta.Result = nil
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	created, err := createScript.Run(ctx, s.client, []string{s.key(job.ID)}, string(job.Status), payload, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	if created == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrAlreadyExists)
	}
	return nil
}

// Get returns the job assembled from its hash.
func (s *RedisJobStore) Get(ctx context.Context, id string) (*models.WorkflowJob, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}

	var job models.WorkflowJob
	if err := json.Unmarshal([]byte(fields["job"]), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	job.Status = models.WorkflowStatus(fields["status"])
	job.Error = fields["error"]
	if v, ok := fields["started_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.StartedAt = &t
		}
	}
	if v, ok := fields["finished_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.FinishedAt = &t
		}
	}
	if v, ok := fields["result"]; ok && v != "" {
		var result models.WorkflowState
		if err := json.Unmarshal([]byte(v), &result); err != nil {
			return nil, fmt.Errorf("failed to decode result for job %s: %w", id, err)
		}
		job.Result = &result
	}
	return &job, nil
}

// GetStatus returns the job's current status.
func (s *RedisJobStore) GetStatus(ctx context.Context, id string) (models.WorkflowStatus, error) {
	status, err := s.client.HGet(ctx, s.key(id), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load status for job %s: %w", id, err)
	}
	return models.WorkflowStatus(status), nil
}

// GetResult returns the final state of a completed job.
func (s *RedisJobStore) GetResult(ctx context.Context, id string) (*models.WorkflowState, error) {
	// status and result come from one HMGET so they are read from the same snapshot
	vals, err := s.client.HMGet(ctx, s.key(id), "status", "result").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load result for job %s: %w", id, err)
	}
	status, _ := vals[0].(string)
	if status == "" {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	raw, _ := vals[1].(string)
	if models.WorkflowStatus(status) != models.StatusCompleted || raw == "" {
		return nil, fmt.Errorf("job %s is %s: %w", id, status, ErrNotReady)
	}

	var result models.WorkflowState
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to decode result for job %s: %w", id, err)
	}
	return &result, nil
}

// SetStatus moves a job to a non-terminal status.
func (s *RedisJobStore) SetStatus(ctx context.Context, id string, status models.WorkflowStatus) error {
	if status.IsTerminal() {
		return fmt.Errorf("%w: terminal status %s must be written with its result", ErrInvalidTransition, status)
	}
	fields := []interface{}{"status", string(status)}
	if status == models.StatusProcessing {
		fields = append(fields, "started_at", time.Now().UTC().Format(time.RFC3339Nano))
	}
	return s.transition(ctx, id, status, fields)
}

// SetResult writes a terminal status and its result in one script call.
func (s *RedisJobStore) SetResult(ctx context.Context, id string, status models.WorkflowStatus, result *models.WorkflowState, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	fields := []interface{}{
		"status", string(status),
		"error", errMsg,
		"finished_at", time.Now().UTC().Format(time.RFC3339Nano),
	}
	if result != nil {
		payload, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fields = append(fields, "result", string(payload))
	}
	return s.transition(ctx, id, status, fields)
}

func (s *RedisJobStore) transition(ctx context.Context, id string, to models.WorkflowStatus, fields []interface{}) error {
	var from []interface{}
	for _, st := range allStatuses {
		if st.CanTransition(to) {
			from = append(from, string(st))
		}
	}
	args := append([]interface{}{len(from)}, from...)
	args = append(args, fields...)

	res, err := transitionScript.Run(ctx, s.client, []string{s.key(id)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	switch res {
	case -1:
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	case 0:
		return fmt.Errorf("%w: job %s cannot move to %s", ErrInvalidTransition, id, to)
	}
	return nil
}

// Ping verifies the Redis connection.
func (s *RedisJobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisJobStore) Close() error {
	return s.client.Close()
}
