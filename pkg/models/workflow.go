// Package models defines the domain models for the RCA workflow service
package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle position of a workflow job
type WorkflowStatus string

const (
	StatusQueued     WorkflowStatus = "queued"
	StatusProcessing WorkflowStatus = "processing"
	StatusCompleted  WorkflowStatus = "completed"
	StatusFailed     WorkflowStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s WorkflowStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next respects the
// QUEUED -> PROCESSING -> {COMPLETED, FAILED} ordering.
func (s WorkflowStatus) CanTransition(next WorkflowStatus) bool {
	switch s {
	case StatusQueued:
		// a queued job that never started may still be failed (rejected or shut down)
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// WorkflowJob is one submitted analysis request and its execution record.
type WorkflowJob struct {
	ID          string         `json:"workflow_id"`
	Status      WorkflowStatus `json:"status"`
	SubmittedAt time.Time      `json:"submitted_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	SubmittedBy string         `json:"submitted_by,omitempty"`
	Anomaly     AnomalyInput   `json:"anomaly"`
	Result      *WorkflowState `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Clone returns a deep copy so callers can never mutate stored state.
func (j *WorkflowJob) Clone() *WorkflowJob {
	if j == nil {
		return nil
	}
	out := *j
	out.Anomaly = j.Anomaly.Clone()
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	if j.Result != nil {
		r := j.Result.Clone()
		out.Result = &r
	}
	return &out
}

// RecommendedAction is a single remediation step.
type RecommendedAction struct {
	Action        string `json:"action" yaml:"action"`
	Priority      string `json:"priority" yaml:"priority"`
	EstimatedTime string `json:"estimated_time" yaml:"estimated_time"`
}

// CausalHypothesis is a candidate explanation weighed by the reasoning stage.
type CausalHypothesis struct {
	Hypothesis string  `json:"hypothesis"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence,omitempty"`
}

// RemediationPlan groups recommended actions by urgency.
type RemediationPlan struct {
	Immediate             []string `json:"immediate"`
	FollowUp              []string `json:"follow_up"`
	TotalEstimatedMinutes int      `json:"total_estimated_minutes"`
}

// State field names. Stages declare the subset they provide using these.
const (
	FieldSymptoms             = "symptoms"
	FieldSeverity             = "severity"
	FieldAffectedEntities     = "affected_entities"
	FieldDiagnosticConfidence = "diagnostic_confidence"
	FieldDiagnosticReasoning  = "diagnostic_reasoning"
	FieldCausalHypotheses     = "causal_hypotheses"
	FieldRootCause            = "root_cause"
	FieldCausalChain          = "causal_chain"
	FieldReasoningConfidence  = "reasoning_confidence"
	FieldReasoningSteps       = "reasoning_steps"
	FieldRecommendedActions   = "recommended_actions"
	FieldRemediationPlan      = "remediation_plan"
	FieldPlanningConfidence   = "planning_confidence"
	FieldPlanningRationale    = "planning_rationale"
	FieldFinalExplanation     = "final_explanation"
)

// StateFields lists every stage-owned field in pipeline order.
var StateFields = []string{
	FieldSymptoms, FieldSeverity, FieldAffectedEntities, FieldDiagnosticConfidence, FieldDiagnosticReasoning,
	FieldCausalHypotheses, FieldRootCause, FieldCausalChain, FieldReasoningConfidence, FieldReasoningSteps,
	FieldRecommendedActions, FieldRemediationPlan, FieldPlanningConfidence, FieldPlanningRationale, FieldFinalExplanation,
}

// WorkflowState is the state accumulated as a workflow moves through the stages.
type WorkflowState struct {
	WorkflowID  string       `json:"workflow_id"`
	AnomalyID   string       `json:"anomaly_id"`
	AnomalyData AnomalyInput `json:"anomaly_data"`

	// Diagnostic
	Symptoms             []string `json:"symptoms"`
	Severity             string   `json:"severity"`
	AffectedEntities     []string `json:"affected_entities"`
	DiagnosticConfidence float64  `json:"diagnostic_confidence"`
	DiagnosticReasoning  string   `json:"diagnostic_reasoning"`

	// Reasoning
	CausalHypotheses    []CausalHypothesis `json:"causal_hypotheses"`
	RootCause           string             `json:"root_cause"`
	CausalChain         []string           `json:"causal_chain"`
	ReasoningConfidence float64            `json:"reasoning_confidence"`
	ReasoningSteps      string             `json:"reasoning_steps"`

	// Planning
	RecommendedActions []RecommendedAction `json:"recommended_actions"`
	RemediationPlan    *RemediationPlan    `json:"remediation_plan,omitempty"`
	PlanningConfidence float64             `json:"planning_confidence"`
	PlanningRationale  string              `json:"planning_rationale"`
	FinalExplanation   string              `json:"final_explanation,omitempty"`

	CurrentStage string `json:"current_stage"`
}

// Has reports whether the named stage field carries a value.
func (s *WorkflowState) Has(field string) bool {
	switch field {
	case FieldSymptoms:
		return len(s.Symptoms) > 0
	case FieldSeverity:
		return s.Severity != ""
	case FieldAffectedEntities:
		return len(s.AffectedEntities) > 0
	case FieldDiagnosticConfidence:
		return s.DiagnosticConfidence > 0
	case FieldDiagnosticReasoning:
		return s.DiagnosticReasoning != ""
	case FieldCausalHypotheses:
		return len(s.CausalHypotheses) > 0
	case FieldRootCause:
		return s.RootCause != ""
	case FieldCausalChain:
		return len(s.CausalChain) > 0
	case FieldReasoningConfidence:
		return s.ReasoningConfidence > 0
	case FieldReasoningSteps:
		return s.ReasoningSteps != ""
	case FieldRecommendedActions:
		return len(s.RecommendedActions) > 0
	case FieldRemediationPlan:
		return s.RemediationPlan != nil
	case FieldPlanningConfidence:
		return s.PlanningConfidence > 0
	case FieldPlanningRationale:
		return s.PlanningRationale != ""
	case FieldFinalExplanation:
		return s.FinalExplanation != ""
	}
	return false
}

// SetFields returns the stage-owned fields currently set.
func (s *WorkflowState) SetFields() []string {
	var out []string
	for _, f := range StateFields {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Clone returns a deep copy of the state.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	out.AnomalyData = s.AnomalyData.Clone()
	out.Symptoms = append([]string(nil), s.Symptoms...)
	out.AffectedEntities = append([]string(nil), s.AffectedEntities...)
	out.CausalHypotheses = append([]CausalHypothesis(nil), s.CausalHypotheses...)
	out.CausalChain = append([]string(nil), s.CausalChain...)
	out.RecommendedActions = append([]RecommendedAction(nil), s.RecommendedActions...)
	if s.RemediationPlan != nil {
		plan := *s.RemediationPlan
		plan.Immediate = append([]string(nil), s.RemediationPlan.Immediate...)
		plan.FollowUp = append([]string(nil), s.RemediationPlan.FollowUp...)
		out.RemediationPlan = &plan
	}
	return out
}

// OverallConfidence is the mean of the three stage confidences.
func (s *WorkflowState) OverallConfidence() float64 {
	return (s.DiagnosticConfidence + s.ReasoningConfidence + s.PlanningConfidence) / 3
}
