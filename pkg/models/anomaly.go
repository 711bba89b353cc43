package models

import (
	"fmt"
	"strings"
)

// Severity levels, ordered from least to most severe.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SeverityScale is the ordered severity scale used when no severity is supplied.
var SeverityScale = []string{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// FeatureContribution is one feature's share of the reconstruction error.
type FeatureContribution struct {
	FeatureName string  `json:"feature_name"`
	Error       float64 `json:"error"`
}

// AnomalyInput is the caller-supplied evidence for an analysis request.
type AnomalyInput struct {
	AnomalyID               string                 `json:"anomaly_id,omitempty"`
	Timestamp               string                 `json:"timestamp,omitempty"`
	ReconstructionError     *float64               `json:"reconstruction_error"`
	TopContributingFeatures []FeatureContribution  `json:"top_contributing_features"`
	Severity                string                 `json:"severity,omitempty"`
	Metadata                map[string]interface{} `json:"metadata,omitempty"`
}

// ValidationError describes a malformed or incomplete submission.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Fields, "; ")
}

// Validate checks required fields and returns a *ValidationError listing every problem.
func (a *AnomalyInput) Validate() error {
	var problems []string
	if a.ReconstructionError == nil {
		problems = append(problems, "reconstruction_error is required")
	} else if *a.ReconstructionError < 0 {
		problems = append(problems, "reconstruction_error must not be negative")
	}
	if len(a.TopContributingFeatures) == 0 {
		problems = append(problems, "top_contributing_features is required")
	}
	for i, f := range a.TopContributingFeatures {
		if strings.TrimSpace(f.FeatureName) == "" {
			problems = append(problems, fmt.Sprintf("top_contributing_features[%d].feature_name is required", i))
		}
	}
	if a.Severity != "" && !IsSeverity(a.Severity) {
		problems = append(problems, fmt.Sprintf("severity must be one of %s", strings.Join(SeverityScale, ", ")))
	}
	if len(problems) > 0 {
		return &ValidationError{Fields: problems}
	}
	return nil
}

// IsSeverity reports whether s is on the severity scale.
func IsSeverity(s string) bool {
	for _, v := range SeverityScale {
		if v == s {
			return true
		}
	}
	return false
}

// DominantFeature returns the feature with the largest contribution.
func (a *AnomalyInput) DominantFeature() (FeatureContribution, bool) {
	if len(a.TopContributingFeatures) == 0 {
		return FeatureContribution{}, false
	}
	best := a.TopContributingFeatures[0]
	for _, f := range a.TopContributingFeatures[1:] {
		if f.Error > best.Error {
			best = f
		}
	}
	return best, true
}

// Clone returns a deep copy. Metadata values are copied one level deep.
func (a AnomalyInput) Clone() AnomalyInput {
	out := a
	if a.ReconstructionError != nil {
		v := *a.ReconstructionError
		out.ReconstructionError = &v
	}
	out.TopContributingFeatures = append([]FeatureContribution(nil), a.TopContributingFeatures...)
	if a.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
