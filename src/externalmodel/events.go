package externalmodel

import (
	"time"

	"github.com/shopspring/decimal"
)

// Monitoring outcomes produced by a cycle for one model metric.
const (
	OutcomeGreen  Outcome = "GREEN"
	OutcomeYellow Outcome = "YELLOW"
	OutcomeRed    Outcome = "RED"
)

// Validation kinds. Interim does not fully clear governance concerns and is
// excluded from auto-close.
const (
	ValidationInitial        ValidationType = "INITIAL"
	ValidationComprehensive  ValidationType = "COMPREHENSIVE"
	ValidationTargetedReview ValidationType = "TARGETED_REVIEW"
	ValidationInterim        ValidationType = "INTERIM"
)

// ValidationStatusApproved is the only validation status that can auto-close
// USE_PRIOR_TO_VALIDATION exceptions.
const ValidationStatusApproved = "APPROVED"

type Outcome string

type ValidationType string

// IsFull reports whether the validation kind fully clears governance
// concerns for a model.
func (t ValidationType) IsFull() bool {
	switch t {
	case ValidationInitial, ValidationComprehensive, ValidationTargetedReview:
		return true
	}
	return false
}

// MonitoringResult is one colored outcome for a model metric, produced by an
// approved monitoring cycle in the upstream monitoring domain.
type MonitoringResult struct {
	ID            uint            `json:"id"`
	CycleID       uint            `json:"cycle_id"`
	ModelID       uint            `json:"model_id"`
	MetricKey     string          `json:"metric_key"`
	Outcome       Outcome         `json:"outcome"`
	ObservedValue decimal.Decimal `json:"observed_value"`
	Threshold     decimal.Decimal `json:"threshold"`
	ApprovedAt    time.Time       `json:"approved_at"`
}

// CycleApproved is the event fired when a monitoring cycle is approved with a
// result for one metric. PriorOutcomes holds the outcomes of the immediately
// preceding cycles for the same model and metric, most recent first, so the
// persistence rule can be evaluated without touching storage.
type CycleApproved struct {
	Result                  MonitoringResult `json:"result"`
	HasActiveRecommendation bool             `json:"has_active_recommendation"`
	PriorOutcomes           []Outcome        `json:"prior_outcomes"`
}

// AttestationSubmitted is the event fired when a model owner submits a
// periodic compliance questionnaire.
type AttestationSubmitted struct {
	ResponseID uint `json:"response_id"`
	ModelID    uint `json:"model_id"`

	// Answer to the use-restrictions question, "Yes" or "No".
	UseRestrictionsAnswer string    `json:"use_restrictions_answer"`
	SubmittedAt           time.Time `json:"submitted_at"`
}

// DeploymentConfirmed is the event fired when a deployment task is confirmed
// for a model version going into production use.
type DeploymentConfirmed struct {
	TaskID                           uint      `json:"task_id"`
	ModelID                          uint      `json:"model_id"`
	DeployedBeforeValidationApproved bool      `json:"deployed_before_validation_approved"`
	ConfirmedAt                      time.Time `json:"confirmed_at"`
}

// ValidationApproved is the event fired when a formal model review reaches a
// terminal status.
type ValidationApproved struct {
	RequestID      uint           `json:"request_id"`
	ModelID        uint           `json:"model_id"`
	ValidationType ValidationType `json:"validation_type"`
	Status         string         `json:"status"`
	ApprovedAt     time.Time      `json:"approved_at"`
}
