package pipeline

import (
	"context"
	"math"
	"strings"

	"rca-orchestrator/backend/pkg/models"
)

// maxAdjustment bounds a single confidence correction.
const maxAdjustment = 0.10

// Learner turns feedback on a workflow result into per-stage confidence adjustments.
type Learner interface {
	Learn(ctx context.Context, state models.WorkflowState, feedback models.Feedback) ([]models.Adjustment, error)
}

// FeedbackLearner derives adjustments from the verdict and any per-stage
// accuracy the reviewer supplied. Identical inputs give identical output.
type FeedbackLearner struct{}

// NewFeedbackLearner creates a FeedbackLearner.
func NewFeedbackLearner() *FeedbackLearner {
	return &FeedbackLearner{}
}

func (l *FeedbackLearner) Learn(_ context.Context, state models.WorkflowState, fb models.Feedback) ([]models.Adjustment, error) {
	verdictDelta := ratingDelta(string(fb.Verdict))

	diag := verdictDelta
	if fb.DiagnosticAccuracy != "" {
		diag = ratingDelta(fb.DiagnosticAccuracy)
	}

	reasoning := verdictDelta
	reasoningNote := "Adjusted causal model weighting from reviewer verdict"
	if fb.ReasoningAccuracy != "" {
		reasoning = ratingDelta(fb.ReasoningAccuracy)
	}
	if fb.ActualRootCause != "" && state.RootCause != "" && !sameRootCause(fb.ActualRootCause, state.RootCause) {
		reasoning = -maxAdjustment
		reasoningNote = "Reported root cause differs from diagnosis: " + fb.ActualRootCause
	}

	planning := verdictDelta
	if fb.PlanningEffectiveness != "" {
		planning = ratingDelta(fb.PlanningEffectiveness)
	}

	return []models.Adjustment{
		{
			Stage:                StageDiagnostic,
			UpdateType:           "pattern",
			Description:          "Updated pattern recognition for similar anomalies",
			ConfidenceAdjustment: clampAdjustment(diag),
		},
		{
			Stage:                StageReasoning,
			UpdateType:           "causal_model",
			Description:          reasoningNote,
			ConfidenceAdjustment: clampAdjustment(reasoning),
		},
		{
			Stage:                StagePlanning,
			UpdateType:           "remediation",
			Description:          "Re-weighted remediation priorities from reported effectiveness",
			ConfidenceAdjustment: clampAdjustment(planning),
		},
	}, nil
}

// ratingDelta maps verdict-style ratings onto a signed confidence correction.
func ratingDelta(rating string) float64 {
	switch strings.ToLower(strings.TrimSpace(rating)) {
	case "correct", "effective", "accurate":
		return 0.05
	case "partially_correct", "partially_effective", "partial":
		return 0.01
	case "incorrect", "ineffective", "inaccurate":
		return -0.08
	}
	return 0
}

func sameRootCause(reported, diagnosed string) bool {
	r := strings.ToLower(strings.TrimSpace(reported))
	d := strings.ToLower(diagnosed)
	return r == d || strings.Contains(d, r) || strings.Contains(r, failureModeLower(d))
}

func failureModeLower(rootCause string) string {
	return strings.ToLower(failureMode(rootCause))
}

func clampAdjustment(v float64) float64 {
	v = math.Max(-maxAdjustment, math.Min(maxAdjustment, v))
	return math.Round(v*1000) / 1000
}
