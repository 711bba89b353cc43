package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"rca-orchestrator/backend/internal/scenario"
	"rca-orchestrator/backend/pkg/models"
)

// DiagnosticStage identifies symptoms, severity and affected entities.
type DiagnosticStage struct {
	selector *scenario.Selector
}

// NewDiagnosticStage creates a DiagnosticStage backed by selector.
func NewDiagnosticStage(selector *scenario.Selector) *DiagnosticStage {
	return &DiagnosticStage{selector: selector}
}

func (s *DiagnosticStage) Name() string { return StageDiagnostic }

func (s *DiagnosticStage) Provides() []string {
	return []string{
		models.FieldSymptoms, models.FieldSeverity, models.FieldAffectedEntities,
		models.FieldDiagnosticConfidence, models.FieldDiagnosticReasoning,
	}
}

func (s *DiagnosticStage) Run(_ context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	sel := s.selector.Select(state.AnomalyID, state.AnomalyData)

	state.Symptoms = sel.Template.Symptoms
	state.Severity = sel.Severity
	state.AffectedEntities = sel.Template.AffectedEntities
	state.DiagnosticConfidence = sel.Confidences.Diagnostic

	reasoning := fmt.Sprintf("Analysis of %s reveals distinctive pattern consistent with %s",
		state.AnomalyID, failureMode(sel.Template.RootCause))
	if f, ok := state.AnomalyData.DominantFeature(); ok {
		reasoning += fmt.Sprintf("; dominant contributor %s (error %.4f)", f.FeatureName, f.Error)
	}
	state.DiagnosticReasoning = reasoning
	return state, nil
}

// ReasoningStage derives the root cause and causal chain from the diagnosis.
type ReasoningStage struct {
	selector *scenario.Selector
}

// NewReasoningStage creates a ReasoningStage backed by selector.
func NewReasoningStage(selector *scenario.Selector) *ReasoningStage {
	return &ReasoningStage{selector: selector}
}

func (s *ReasoningStage) Name() string { return StageReasoning }

func (s *ReasoningStage) Provides() []string {
	return []string{
		models.FieldRootCause, models.FieldCausalChain, models.FieldCausalHypotheses,
		models.FieldReasoningConfidence, models.FieldReasoningSteps,
	}
}

func (s *ReasoningStage) Run(_ context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	if len(state.Symptoms) == 0 {
		return state, fmt.Errorf("reasoning requires diagnostic symptoms")
	}
	sel := s.selector.Select(state.AnomalyID, state.AnomalyData)

	cascade := "System degradation"
	if len(state.Symptoms) > 1 {
		cascade = state.Symptoms[1]
	}
	state.RootCause = sel.Template.RootCause
	state.CausalChain = []string{
		"Initial condition: " + state.Symptoms[0],
		"Cascade effect: " + cascade,
		"Final impact: " + sel.Template.RootCause,
	}
	state.CausalHypotheses = []models.CausalHypothesis{{
		Hypothesis: sel.Template.RootCause,
		Confidence: sel.Confidences.Reasoning,
		Evidence:   strings.Join(state.Symptoms, ", "),
	}}
	state.ReasoningConfidence = sel.Confidences.Reasoning
	state.ReasoningSteps = fmt.Sprintf("Analyzed feature contributions and temporal patterns for %s. "+
		"Correlation analysis identified primary failure mode.", state.AnomalyID)
	return state, nil
}

// PlanningStage proposes remediation actions and writes the final explanation.
type PlanningStage struct {
	selector *scenario.Selector
}

// NewPlanningStage creates a PlanningStage backed by selector.
func NewPlanningStage(selector *scenario.Selector) *PlanningStage {
	return &PlanningStage{selector: selector}
}

func (s *PlanningStage) Name() string { return StagePlanning }

func (s *PlanningStage) Provides() []string {
	return []string{
		models.FieldRecommendedActions, models.FieldRemediationPlan, models.FieldPlanningConfidence,
		models.FieldPlanningRationale, models.FieldFinalExplanation,
	}
}

func (s *PlanningStage) Run(_ context.Context, state models.WorkflowState) (models.WorkflowState, error) {
	if state.RootCause == "" {
		return state, fmt.Errorf("planning requires a root cause")
	}
	sel := s.selector.Select(state.AnomalyID, state.AnomalyData)

	state.RecommendedActions = sel.Template.Actions
	state.RemediationPlan = buildPlan(sel.Template.Actions)
	state.PlanningConfidence = sel.Confidences.Planning
	state.PlanningRationale = fmt.Sprintf("Actions prioritized based on severity (%s) and criticality assessment for %s",
		state.Severity, state.AnomalyID)
	state.FinalExplanation = fmt.Sprintf("Comprehensive RCA for %s: The system detected %d critical symptoms. "+
		"Root cause analysis indicates %s. Recommended %d corrective actions with overall confidence score of %.1f%%.",
		state.AnomalyID, len(state.Symptoms), state.RootCause, len(state.RecommendedActions), state.OverallConfidence()*100)
	return state, nil
}

// DefaultStages returns the diagnostic, reasoning and planning stages backed by selector.
func DefaultStages(selector *scenario.Selector) []Stage {
	return []Stage{
		NewDiagnosticStage(selector),
		NewReasoningStage(selector),
		NewPlanningStage(selector),
	}
}

func failureMode(rootCause string) string {
	mode, _, _ := strings.Cut(rootCause, "-")
	return strings.TrimSpace(mode)
}

func buildPlan(actions []models.RecommendedAction) *models.RemediationPlan {
	plan := &models.RemediationPlan{Immediate: []string{}, FollowUp: []string{}}
	for _, a := range actions {
		if a.Priority == "critical" {
			plan.Immediate = append(plan.Immediate, a.Action)
		} else {
			plan.FollowUp = append(plan.FollowUp, a.Action)
		}
		plan.TotalEstimatedMinutes += parseMinutes(a.EstimatedTime)
	}
	return plan
}

// parseMinutes understands "20 min" and "2 hours" style estimates; anything else counts as zero.
func parseMinutes(s string) int {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	if len(fields) > 1 && strings.HasPrefix(fields[1], "hour") {
		return n * 60
	}
	return n
}
