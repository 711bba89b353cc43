package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Workflow engine metrics
var (
	WorkflowsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rca_workflows_submitted_total",
			Help: "Total number of workflow submissions",
		},
		[]string{"result"}, // accepted/invalid/rejected
	)

	WorkflowsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rca_workflows_finished_total",
			Help: "Total number of workflows that reached a terminal status",
		},
		[]string{"status"},
	)

	WorkflowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rca_workflow_duration_seconds",
			Help:    "Time from PROCESSING to a terminal status",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rca_stage_duration_seconds",
			Help:    "Pipeline stage execution time",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"stage", "status"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rca_executor_queue_depth",
			Help: "Workflows waiting for a worker",
		},
	)

	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rca_executor_in_flight",
			Help: "Workflows currently being processed",
		},
	)

	FeedbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rca_feedback_total",
			Help: "Total number of feedback submissions",
		},
		[]string{"verdict", "result"},
	)
)
