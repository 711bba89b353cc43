package models

import (
	"time"
)

// Verdict is the reviewer's overall judgement of a diagnosis.
type Verdict string

const (
	VerdictCorrect          Verdict = "correct"
	VerdictPartiallyCorrect Verdict = "partially_correct"
	VerdictIncorrect        Verdict = "incorrect"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictCorrect, VerdictPartiallyCorrect, VerdictIncorrect:
		return true
	}
	return false
}

// Feedback is post-hoc review of a workflow's result.
type Feedback struct {
	Verdict               Verdict  `json:"feedback_type"`
	Comments              string   `json:"comments,omitempty"`
	ActualRootCause       string   `json:"actual_root_cause,omitempty"`
	DiagnosticAccuracy    string   `json:"diagnostic_accuracy,omitempty"`
	ReasoningAccuracy     string   `json:"reasoning_accuracy,omitempty"`
	PlanningEffectiveness string   `json:"planning_effectiveness,omitempty"`
	CorrectiveActions     []string `json:"corrective_actions_taken,omitempty"`
}

// Validate checks that the verdict is set and known.
func (f *Feedback) Validate() error {
	if f.Verdict == "" {
		return &ValidationError{Fields: []string{"feedback_type is required"}}
	}
	if !f.Verdict.Valid() {
		return &ValidationError{Fields: []string{"feedback_type must be one of correct, partially_correct, incorrect"}}
	}
	return nil
}

// Adjustment is a confidence correction for one stage.
type Adjustment struct {
	Stage                string  `json:"agent"`
	UpdateType           string  `json:"update_type"`
	Description          string  `json:"description"`
	ConfidenceAdjustment float64 `json:"confidence_adjustment"`
}

// LearningRecord is the durable artifact produced when feedback is processed.
type LearningRecord struct {
	WorkflowID  string       `json:"workflow_id"`
	AnomalyID   string       `json:"anomaly_id"`
	Feedback    Feedback     `json:"feedback"`
	Adjustments []Adjustment `json:"learning_updates"`
	ReviewedBy  string       `json:"reviewed_by,omitempty"`
	CreatedAt   time.Time    `json:"timestamp"`
}

// ConfidenceAdjustments aggregates adjustments by stage; the last entry for a stage wins.
func (r *LearningRecord) ConfidenceAdjustments() map[string]float64 {
	out := make(map[string]float64, len(r.Adjustments))
	for _, a := range r.Adjustments {
		out[a.Stage] = a.ConfidenceAdjustment
	}
	return out
}

// LearningUpdate is returned to the caller after feedback is processed.
type LearningUpdate struct {
	WorkflowID            string             `json:"workflow_id"`
	FeedbackProcessed     bool               `json:"feedback_processed"`
	LearningUpdates       []Adjustment       `json:"learning_updates"`
	ConfidenceAdjustments map[string]float64 `json:"confidence_adjustments"`
	Timestamp             time.Time          `json:"timestamp"`
}
