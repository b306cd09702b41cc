package model

import "time"

// Exception types. Closed set, one per trigger condition family.
const (
	TypeUnmitigatedPerformance ExceptionType = "UNMITIGATED_PERFORMANCE"
	TypeOutsideIntendedPurpose ExceptionType = "OUTSIDE_INTENDED_PURPOSE"
	TypeUsePriorToValidation   ExceptionType = "USE_PRIOR_TO_VALIDATION"
)

// Exception statuses. CLOSED is terminal: no edge leads out of it and rows
// are never deleted. Recurrence of a condition yields a brand-new exception.
const (
	StatusOpen         ExceptionStatus = "OPEN"
	StatusAcknowledged ExceptionStatus = "ACKNOWLEDGED"
	StatusClosed       ExceptionStatus = "CLOSED"
)

// Closure reasons accepted by the close command.
const (
	ClosureNoLongerException   ClosureReason = "NO_LONGER_EXCEPTION"
	ClosureExceptionOverridden ClosureReason = "EXCEPTION_OVERRIDDEN"
	ClosureOther               ClosureReason = "OTHER"
)

// SystemActor is recorded on audit entries for transitions made by the
// detection engine or the auto-close monitor rather than an admin.
const SystemActor = "system"

type ExceptionType string

type ExceptionStatus string

type ClosureReason string

// Valid reports whether r is one of the accepted closure reasons.
func (r ClosureReason) Valid() bool {
	switch r {
	case ClosureNoLongerException, ClosureExceptionOverridden, ClosureOther:
		return true
	}
	return false
}

// Exception is a formal, auditable record raised when a model deviates from
// a required governance control. Created exclusively by the detection engine,
// mutated only by the auto-close monitor or by admin lifecycle commands,
// never destroyed.
type Exception struct {
	ID string `gorm:"type:uuid;primaryKey" json:"id"`

	// Human identifier, EXC-<year>-<5-digit-seq>, assigned atomically with
	// the insert using the detection year.
	Code string `gorm:"size:20;uniqueIndex;not null" json:"code"`

	ModelID uint `gorm:"index;not null" json:"model_id"`

	// Snapshotted from the model registry at detection time so list filters
	// do not need cross-service joins.
	ModelName string `gorm:"size:200" json:"model_name"`
	Region    string `gorm:"size:100;index" json:"region"`

	Type ExceptionType `gorm:"size:40;index;not null" json:"type"`

	// Identifier of the triggering upstream record, prefixed with its kind
	// (monitoring-result, attestation-response, deployment-task). The unique
	// index on this column is the dedup invariant: the store, not
	// application code, decides whether an exception already exists.
	SourceReference string `gorm:"size:120;uniqueIndex;not null" json:"source_reference"`

	// Metric of the source monitoring result. Only set for
	// UNMITIGATED_PERFORMANCE; lets auto-close resolve the source metric
	// with one indexed query.
	MetricKey string `gorm:"size:120;index" json:"metric_key,omitempty"`

	Status ExceptionStatus `gorm:"size:20;index;not null;default:OPEN" json:"status"`

	// Which specific condition fired, set at detection time.
	Description string `gorm:"type:text" json:"description"`

	DetectedAt time.Time `gorm:"index;not null" json:"detected_at"`

	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy *string    `gorm:"size:100" json:"acknowledged_by,omitempty"`

	ClosedAt *time.Time `json:"closed_at,omitempty"`
	// Nil ClosedBy on a closed exception denotes system closure.
	ClosedBy         *string        `gorm:"size:100" json:"closed_by,omitempty"`
	ClosureReason    *ClosureReason `gorm:"size:40" json:"closure_reason,omitempty"`
	ClosureNarrative string         `gorm:"type:text" json:"closure_narrative,omitempty"`
	AutoClosed       bool           `json:"auto_closed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Append-only audit trail, one entry per status transition.
	Transitions []StatusTransition `gorm:"foreignKey:ExceptionID" json:"transitions,omitempty"`
}

func (Exception) TableName() string {
	return "governance_exceptions"
}

// StatusTransition is one audit trail entry. Entries are appended inside the
// same transaction as the status change and are never mutated or deleted.
type StatusTransition struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ExceptionID string    `gorm:"type:uuid;index;not null" json:"exception_id"`
	OccurredAt  time.Time `gorm:"not null" json:"occurred_at"`

	// Admin user name, or SystemActor for detection and auto-close.
	Actor string `gorm:"size:100;not null" json:"actor"`

	FromStatus ExceptionStatus `gorm:"size:20" json:"from_status"`
	ToStatus   ExceptionStatus `gorm:"size:20;not null" json:"to_status"`
	Note       string          `gorm:"type:text" json:"note,omitempty"`
}

func (StatusTransition) TableName() string {
	return "governance_exception_transitions"
}

// CodeSequence backs the per-year exception code counter. The row for a year
// is created on the first detection of that year and incremented under a row
// lock inside the same transaction as the exception insert.
type CodeSequence struct {
	Year      int   `gorm:"primaryKey;autoIncrement:false" json:"year"`
	LastValue int64 `gorm:"not null" json:"last_value"`
}

func (CodeSequence) TableName() string {
	return "governance_exception_codes"
}
