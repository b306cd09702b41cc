package rules

import (
	"fmt"
	"strings"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/externalmodel"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/model"
)

// ----- source reference formats -----

// Source references are prefixed with their upstream kind so the unique
// index stays collision-free across the three domains.
const (
	SourcePrefixMonitoringResult = "monitoring-result"
	SourcePrefixAttestation      = "attestation-response"
	SourcePrefixDeploymentTask   = "deployment-task"
)

func MonitoringResultRef(resultID uint) string {
	return fmt.Sprintf("%s:%d", SourcePrefixMonitoringResult, resultID)
}

func AttestationRef(responseID uint) string {
	return fmt.Sprintf("%s:%d", SourcePrefixAttestation, responseID)
}

func DeploymentTaskRef(taskID uint) string {
	return fmt.Sprintf("%s:%d", SourcePrefixDeploymentTask, taskID)
}

// ----- config -----

// Config holds the tunables of the evaluators. The persistence window is an
// explicit parameter: how many consecutive RED cycles, including the current
// one, count as "persisting".
type Config struct {
	RedPersistenceCycles int
}

// DefaultConfig treats a RED carried over from the immediately preceding
// cycle as persisting.
func DefaultConfig() Config {
	return Config{RedPersistenceCycles: 2}
}

// ----- candidates -----

// Candidate is the zero-or-one output of an evaluator: everything the
// detection engine needs to attempt an insert. Evaluators never touch
// storage.
type Candidate struct {
	ModelID         uint
	Type            model.ExceptionType
	SourceReference string
	MetricKey       string
	Description     string
}

// ----- evaluators -----

// EvaluateCycleApproved fires on an approved monitoring cycle with a RED
// outcome when the result has no active recommendation, or when the RED
// persists from the preceding cycles, or both. A single candidate is
// produced even when both conditions hold; the description records which
// conditions fired.
func EvaluateCycleApproved(ev externalmodel.CycleApproved, cfg Config) *Candidate {
	if ev.Result.Outcome != externalmodel.OutcomeRed {
		return nil
	}

	var conditions []string
	if !ev.HasActiveRecommendation {
		conditions = append(conditions, "no active recommendation linked to the RED result")
	}
	if redPersists(ev.PriorOutcomes, cfg.RedPersistenceCycles) {
		conditions = append(conditions,
			fmt.Sprintf("RED outcome persisting across %d consecutive cycles", cfg.RedPersistenceCycles))
	}
	if len(conditions) == 0 {
		return nil
	}

	return &Candidate{
		ModelID:         ev.Result.ModelID,
		Type:            model.TypeUnmitigatedPerformance,
		SourceReference: MonitoringResultRef(ev.Result.ID),
		MetricKey:       ev.Result.MetricKey,
		Description: fmt.Sprintf("Unmitigated RED performance on metric %s: %s",
			ev.Result.MetricKey, strings.Join(conditions, "; ")),
	}
}

// EvaluateAttestationSubmitted fires unconditionally when the submitted
// attestation answers No on the use-restrictions question.
func EvaluateAttestationSubmitted(ev externalmodel.AttestationSubmitted) *Candidate {
	if !strings.EqualFold(ev.UseRestrictionsAnswer, "No") {
		return nil
	}

	return &Candidate{
		ModelID:         ev.ModelID,
		Type:            model.TypeOutsideIntendedPurpose,
		SourceReference: AttestationRef(ev.ResponseID),
		Description:     "Attestation answered No on the use-restrictions question",
	}
}

// EvaluateDeploymentConfirmed fires unconditionally when a confirmed
// deployment task records use before validation approval.
func EvaluateDeploymentConfirmed(ev externalmodel.DeploymentConfirmed) *Candidate {
	if !ev.DeployedBeforeValidationApproved {
		return nil
	}

	return &Candidate{
		ModelID:         ev.ModelID,
		Type:            model.TypeUsePriorToValidation,
		SourceReference: DeploymentTaskRef(ev.TaskID),
		Description:     "Model version deployed before validation approval",
	}
}

// redPersists reports whether the current RED plus the most recent prior
// outcomes form a run of at least window consecutive REDs.
func redPersists(prior []externalmodel.Outcome, window int) bool {
	if window < 2 {
		// a window of 1 would make every RED "persisting"
		window = 2
	}
	run := 1 // the current result is RED by the time this is called
	for _, o := range prior {
		if o != externalmodel.OutcomeRed {
			break
		}
		run++
	}
	return run >= window
}
