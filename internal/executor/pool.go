// Package executor runs submitted workflows on a bounded pool of background
// workers. Submission never blocks: when the queue is full the caller gets
// ErrQueueFull and decides what to do with the job.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"rca-orchestrator/backend/internal/logging"
	"rca-orchestrator/backend/internal/metrics"
	"rca-orchestrator/backend/internal/repository"
	"rca-orchestrator/backend/pkg/models"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("workflow queue is full")
	// ErrPoolStopped is returned by Submit after Stop was called.
	ErrPoolStopped = errors.New("executor is stopped")
)

// Runner executes the stage pipeline over an initial state.
type Runner interface {
	Run(ctx context.Context, state models.WorkflowState) (models.WorkflowState, error)
}

// Config sizes the pool.
type Config struct {
	Workers   int
	QueueSize int
	// TerminalWriteAttempts bounds how often a terminal status write is tried.
	TerminalWriteAttempts int
	RetryBackoff          time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.TerminalWriteAttempts <= 0 {
		c.TerminalWriteAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
	return c
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers  int `json:"workers"`
	Queued   int `json:"queued"`
	InFlight int `json:"in_flight"`
}

// Pool is a fixed set of workers draining a bounded submission queue.
type Pool struct {
	cfg    Config
	store  repository.JobStore
	runner Runner
	logger *logging.Logger
	tracer trace.Tracer

	mu      sync.RWMutex
	queue   chan *models.WorkflowJob
	started bool
	stopped bool

	inFlight atomic.Int64
	runCtx   context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPool creates a Pool. Call Start before submitting.
func NewPool(cfg Config, store repository.JobStore, runner Runner, logger *logging.Logger) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:    cfg,
		store:  store,
		runner: runner,
		logger: logger,
		tracer: otel.Tracer("rca-orchestrator/executor"),
		queue:  make(chan *models.WorkflowJob, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the workers. Cancelling ctx cancels every running workflow.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.runCtx, p.cancel = context.WithCancel(ctx)

	var g errgroup.Group
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			for job := range p.queue {
				metrics.QueueDepth.Dec()
				p.process(p.runCtx, worker, job)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(p.done)
	}()

	p.logger.Info("executor started", "workers", p.cfg.Workers, "queue_size", p.cfg.QueueSize)
}

// Submit enqueues a job that is already stored as QUEUED.
func (p *Pool) Submit(job *models.WorkflowJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped || !p.started {
		return ErrPoolStopped
	}
	select {
	case p.queue <- job:
		metrics.QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new submissions and waits for queued and running workflows to
// finish. When ctx expires first, running workflows are cancelled; they fail
// at their next stage boundary and Stop returns ctx's error once workers exit.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		p.cancel()
		p.logger.Info("executor drained")
		return nil
	case <-ctx.Done():
		p.logger.Warn("executor stop deadline reached, cancelling running workflows", "in_flight", p.inFlight.Load())
		p.cancel()
		<-p.done
		return ctx.Err()
	}
}

// Stats reports the pool's current load.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:  p.cfg.Workers,
		Queued:   len(p.queue),
		InFlight: int(p.inFlight.Load()),
	}
}

func (p *Pool) process(ctx context.Context, worker int, job *models.WorkflowJob) {
	p.inFlight.Add(1)
	metrics.InFlight.Inc()
	defer func() {
		p.inFlight.Add(-1)
		metrics.InFlight.Dec()
	}()

	log := p.logger.With("workflow_id", job.ID, "worker", worker)
	ctx, span := p.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("rca.workflow_id", job.ID),
		attribute.String("rca.anomaly_id", job.Anomaly.AnomalyID),
	))
	defer span.End()

	start := time.Now()
	result, err := p.execute(ctx, job)

	status, errMsg := models.StatusCompleted, ""
	if err != nil {
		status, errMsg = models.StatusFailed, err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, errMsg)
		log.Warn("workflow failed", "error", errMsg)
	} else {
		log.Info("workflow completed", "root_cause", result.RootCause, "duration", time.Since(start))
	}

	p.finish(ctx, log, job.ID, status, result, errMsg)
	metrics.WorkflowDuration.Observe(time.Since(start).Seconds())
	metrics.WorkflowsFinished.WithLabelValues(string(status)).Inc()
}

// execute runs one workflow. A panic anywhere below is turned into an error
// so the job still reaches a terminal status.
func (p *Pool) execute(ctx context.Context, job *models.WorkflowJob) (result *models.WorkflowState, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("workflow panicked: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("executor stopped before workflow started: %w", err)
	}
	if err := p.store.SetStatus(ctx, job.ID, models.StatusProcessing); err != nil {
		return nil, fmt.Errorf("failed to mark workflow processing: %w", err)
	}

	initial := models.WorkflowState{
		WorkflowID:  job.ID,
		AnomalyID:   job.Anomaly.AnomalyID,
		AnomalyData: job.Anomaly.Clone(),
	}
	out, err := p.runner.Run(ctx, initial)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// finish writes the terminal status, retrying transient store failures.
func (p *Pool) finish(ctx context.Context, log *logging.Logger, id string, status models.WorkflowStatus, result *models.WorkflowState, errMsg string) {
	// the terminal write must outlive a cancelled run
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	for attempt := 1; ; attempt++ {
		err := p.store.SetResult(writeCtx, id, status, result, errMsg)
		if err == nil {
			return
		}
		if errors.Is(err, repository.ErrInvalidTransition) || errors.Is(err, repository.ErrNotFound) {
			log.Error("terminal status rejected by store", "status", status, "error", err)
			return
		}
		if attempt >= p.cfg.TerminalWriteAttempts {
			log.Error("giving up on terminal status write", "status", status, "attempts", attempt, "error", err)
			return
		}
		log.Warn("terminal status write failed, retrying", "attempt", attempt, "error", err)

		timer := time.NewTimer(p.cfg.RetryBackoff * time.Duration(attempt))
		select {
		case <-writeCtx.Done():
			timer.Stop()
			log.Error("terminal status write timed out", "status", status, "error", writeCtx.Err())
			return
		case <-timer.C:
		}
	}
}
