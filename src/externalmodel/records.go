package externalmodel

import (
	"time"

	"github.com/shopspring/decimal"
)

// Read-only row mappings for the upstream collaborator tables polled by
// batch detection. These schemas are owned by the monitoring, attestation
// and deployment domains; the exception engine only reads them.

type MonitoringResultRecord struct {
	ID            uint            `gorm:"primaryKey;column:id" json:"id"`
	CycleID       uint            `gorm:"column:cycle_id" json:"cycle_id"`
	ModelID       uint            `gorm:"column:model_id" json:"model_id"`
	MetricKey     string          `gorm:"column:metric_key" json:"metric_key"`
	Outcome       string          `gorm:"column:outcome" json:"outcome"`
	ObservedValue decimal.Decimal `gorm:"column:observed_value" json:"observed_value"`
	Threshold     decimal.Decimal `gorm:"column:threshold" json:"threshold"`
	CycleApproved bool            `gorm:"column:cycle_approved" json:"cycle_approved"`
	ApprovedAt    *time.Time      `gorm:"column:approved_at" json:"approved_at,omitempty"`
}

func (MonitoringResultRecord) TableName() string {
	return "monitoring_results"
}

type RecommendationRecord struct {
	ID        uint   `gorm:"primaryKey;column:id" json:"id"`
	ResultID  uint   `gorm:"column:result_id" json:"result_id"`
	ModelID   uint   `gorm:"column:model_id" json:"model_id"`
	Status    string `gorm:"column:status" json:"status"`
	Active    bool   `gorm:"column:active" json:"active"`
	Narrative string `gorm:"column:narrative" json:"narrative"`
}

func (RecommendationRecord) TableName() string {
	return "monitoring_recommendations"
}

type AttestationResponseRecord struct {
	ID                    uint       `gorm:"primaryKey;column:id" json:"id"`
	ModelID               uint       `gorm:"column:model_id" json:"model_id"`
	Question              string     `gorm:"column:question" json:"question"`
	UseRestrictionsAnswer string     `gorm:"column:use_restrictions_answer" json:"use_restrictions_answer"`
	Submitted             bool       `gorm:"column:submitted" json:"submitted"`
	SubmittedAt           *time.Time `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
}

func (AttestationResponseRecord) TableName() string {
	return "attestation_responses"
}

type DeploymentTaskRecord struct {
	ID                               uint       `gorm:"primaryKey;column:id" json:"id"`
	ModelID                          uint       `gorm:"column:model_id" json:"model_id"`
	Confirmed                        bool       `gorm:"column:confirmed" json:"confirmed"`
	DeployedBeforeValidationApproved bool       `gorm:"column:deployed_before_validation_approved" json:"deployed_before_validation_approved"`
	ConfirmedAt                      *time.Time `gorm:"column:confirmed_at" json:"confirmed_at,omitempty"`
}

func (DeploymentTaskRecord) TableName() string {
	return "deployment_tasks"
}
