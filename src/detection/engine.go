package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/connectors"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/domain"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/externalmodel"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/model"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/repository"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/rules"
)

// ExceptionStore is the slice of the exception repository the engine needs.
type ExceptionStore interface {
	Create(ctx context.Context, exc *model.Exception) error
	ExistingSourceReferences(ctx context.Context, refs []string) (map[string]bool, error)
}

// EventSource provides the unresolved candidate events of one model for
// batch detection.
type EventSource interface {
	PendingCycleApprovals(ctx context.Context, modelID uint) ([]externalmodel.CycleApproved, error)
	PendingAttestations(ctx context.Context, modelID uint) ([]externalmodel.AttestationSubmitted, error)
	PendingDeployments(ctx context.Context, modelID uint) ([]externalmodel.DeploymentConfirmed, error)
}

// ModelRegistry resolves model metadata snapshotted onto new exceptions.
type ModelRegistry interface {
	Snapshot(ctx context.Context, modelID uint) (*connectors.ModelSnapshot, error)
	ActiveModelIDs(ctx context.Context) ([]uint, error)
}

// EvaluationError is one isolated per-record failure of a batch run.
type EvaluationError struct {
	ModelID         uint   `json:"model_id"`
	SourceReference string `json:"source_reference,omitempty"`
	Message         string `json:"message"`
}

// Summary reports what a batch detection run created.
type Summary struct {
	CreatedByType map[model.ExceptionType]int `json:"created_by_type"`
	TotalCreated  int                         `json:"total_created"`
	Errors        []EvaluationError           `json:"evaluation_errors,omitempty"`
}

// Engine orchestrates the rule evaluators against the exception store. It is
// stateless: all coordination happens through the store's transactional
// guarantees, so reactive and batch runs may race freely.
type Engine struct {
	store    ExceptionStore
	source   EventSource
	registry ModelRegistry
	rules    rules.Config
	batch    int
}

func NewEngine(store ExceptionStore, source EventSource, registry ModelRegistry, cfg Config) *Engine {
	batch := cfg.BatchSize
	if batch < 1 {
		batch = 1
	}
	return &Engine{
		store:    store,
		source:   source,
		registry: registry,
		rules:    rules.Config{RedPersistenceCycles: cfg.RedPersistenceCycles},
		batch:    batch,
	}
}

// NewDefaultEngine wires the engine to the production repositories and the
// registry connector.
func NewDefaultEngine() *Engine {
	return NewEngine(
		repository.NewExceptionRepository(),
		repository.NewUpstreamRepository(),
		connectors.NewRegistryClient(),
		GetConfig(),
	)
}

// ----- reactive path -----

// OnCycleApproved runs the unmitigated-performance evaluator for a single
// cycle approval. Returns the created exception, or nil when the evaluator
// does not fire or the exception already exists.
func (e *Engine) OnCycleApproved(ctx context.Context, ev externalmodel.CycleApproved) (*model.Exception, error) {
	return e.insertCandidate(ctx, rules.EvaluateCycleApproved(ev, e.rules))
}

// OnAttestationSubmitted runs the outside-intended-purpose evaluator for a
// single attestation submission.
func (e *Engine) OnAttestationSubmitted(ctx context.Context, ev externalmodel.AttestationSubmitted) (*model.Exception, error) {
	return e.insertCandidate(ctx, rules.EvaluateAttestationSubmitted(ev))
}

// OnDeploymentConfirmed runs the use-prior-to-validation evaluator for a
// single deployment confirmation.
func (e *Engine) OnDeploymentConfirmed(ctx context.Context, ev externalmodel.DeploymentConfirmed) (*model.Exception, error) {
	return e.insertCandidate(ctx, rules.EvaluateDeploymentConfirmed(ev))
}

// insertCandidate attempts the insert for one candidate. A duplicate-key
// conflict from the store means the exception already exists and is treated
// as a successful no-op, which is what makes detection idempotent and safe
// to re-run or race.
func (e *Engine) insertCandidate(ctx context.Context, candidate *rules.Candidate) (*model.Exception, error) {
	if candidate == nil {
		return nil, nil
	}

	exc := &model.Exception{
		ModelID:         candidate.ModelID,
		Type:            candidate.Type,
		SourceReference: candidate.SourceReference,
		MetricKey:       candidate.MetricKey,
		Description:     candidate.Description,
		DetectedAt:      time.Now().UTC(),
	}
	e.snapshotModel(ctx, exc)

	if err := e.store.Create(ctx, exc); err != nil {
		if errors.Is(err, domain.ErrDuplicateSourceRecord) {
			logger.WithFields(map[string]interface{}{
				"source_ref": candidate.SourceReference,
				"type":       candidate.Type,
			}).Debug("Exception already exists for source record, skipping")
			return nil, nil
		}
		return nil, err
	}

	return exc, nil
}

// snapshotModel copies name and region from the registry onto the new
// exception. Best effort: a registry outage must not block detection.
func (e *Engine) snapshotModel(ctx context.Context, exc *model.Exception) {
	if e.registry == nil {
		return
	}
	snap, err := e.registry.Snapshot(ctx, exc.ModelID)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"model_id": exc.ModelID,
		}).WithError(err).Warn("Failed to snapshot model from registry")
		return
	}
	exc.ModelName = snap.Name
	exc.Region = snap.Region
}

// ----- batch path -----

// DetectAll gathers the unresolved candidate events of every active model,
// runs the matching evaluator and attempts insertion. Models are processed
// in bounded-size groups and each insert is its own transaction, so partial
// failure is safe to retry. Per-record faults are captured in the summary
// rather than aborting the rest of the batch.
func (e *Engine) DetectAll(ctx context.Context, activeModels []uint) (*Summary, error) {
	summary := &Summary{CreatedByType: map[model.ExceptionType]int{
		model.TypeUnmitigatedPerformance: 0,
		model.TypeOutsideIntendedPurpose: 0,
		model.TypeUsePriorToValidation:   0,
	}}

	for start := 0; start < len(activeModels); start += e.batch {
		end := start + e.batch
		if end > len(activeModels) {
			end = len(activeModels)
		}
		for _, modelID := range activeModels[start:end] {
			e.detectModel(ctx, modelID, summary)
		}
	}

	logger.WithFields(map[string]interface{}{
		"models":  len(activeModels),
		"created": summary.TotalCreated,
		"errors":  len(summary.Errors),
	}).Info("Batch detection completed")

	return summary, nil
}

// DetectOne runs detection for a single model, typically in reaction to an
// upstream change notification.
func (e *Engine) DetectOne(ctx context.Context, modelID uint) (*Summary, error) {
	return e.DetectAll(ctx, []uint{modelID})
}

// DetectAllActive resolves the active model list from the registry and runs
// DetectAll over it.
func (e *Engine) DetectAllActive(ctx context.Context) (*Summary, error) {
	modelIDs, err := e.registry.ActiveModelIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active models: %w", err)
	}
	return e.DetectAll(ctx, modelIDs)
}

func (e *Engine) detectModel(ctx context.Context, modelID uint, summary *Summary) {
	candidates := e.gatherCandidates(ctx, modelID, summary)
	if len(candidates) == 0 {
		return
	}

	refs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		refs = append(refs, c.SourceReference)
	}
	covered, err := e.store.ExistingSourceReferences(ctx, refs)
	if err != nil {
		summary.Errors = append(summary.Errors, EvaluationError{
			ModelID: modelID,
			Message: fmt.Sprintf("failed to check existing exceptions: %v", err),
		})
		return
	}

	for _, candidate := range candidates {
		if covered[candidate.SourceReference] {
			continue
		}
		created, err := e.insertCandidate(ctx, candidate)
		if err != nil {
			summary.Errors = append(summary.Errors, EvaluationError{
				ModelID:         modelID,
				SourceReference: candidate.SourceReference,
				Message:         err.Error(),
			})
			continue
		}
		if created != nil {
			summary.CreatedByType[created.Type]++
			summary.TotalCreated++
		}
	}
}

// gatherCandidates runs the three evaluators over the model's pending
// events. Each record is evaluated behind a recover so one faulting record
// cannot abort the rest.
func (e *Engine) gatherCandidates(ctx context.Context, modelID uint, summary *Summary) []*rules.Candidate {
	var candidates []*rules.Candidate

	cycles, err := e.source.PendingCycleApprovals(ctx, modelID)
	if err != nil {
		summary.Errors = append(summary.Errors, EvaluationError{
			ModelID: modelID,
			Message: fmt.Sprintf("failed to load cycle approvals: %v", err),
		})
	}
	for _, ev := range cycles {
		e.evaluateRecord(modelID, rules.MonitoringResultRef(ev.Result.ID), summary, &candidates,
			func() *rules.Candidate { return rules.EvaluateCycleApproved(ev, e.rules) })
	}

	attestations, err := e.source.PendingAttestations(ctx, modelID)
	if err != nil {
		summary.Errors = append(summary.Errors, EvaluationError{
			ModelID: modelID,
			Message: fmt.Sprintf("failed to load attestations: %v", err),
		})
	}
	for _, ev := range attestations {
		e.evaluateRecord(modelID, rules.AttestationRef(ev.ResponseID), summary, &candidates,
			func() *rules.Candidate { return rules.EvaluateAttestationSubmitted(ev) })
	}

	deployments, err := e.source.PendingDeployments(ctx, modelID)
	if err != nil {
		summary.Errors = append(summary.Errors, EvaluationError{
			ModelID: modelID,
			Message: fmt.Sprintf("failed to load deployments: %v", err),
		})
	}
	for _, ev := range deployments {
		e.evaluateRecord(modelID, rules.DeploymentTaskRef(ev.TaskID), summary, &candidates,
			func() *rules.Candidate { return rules.EvaluateDeploymentConfirmed(ev) })
	}

	return candidates
}

func (e *Engine) evaluateRecord(
	modelID uint,
	sourceRef string,
	summary *Summary,
	candidates *[]*rules.Candidate,
	evaluate func() *rules.Candidate,
) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"model_id":   modelID,
				"source_ref": sourceRef,
			}).Errorf("Evaluator panicked: %v", r)
			summary.Errors = append(summary.Errors, EvaluationError{
				ModelID:         modelID,
				SourceReference: sourceRef,
				Message:         fmt.Sprintf("evaluator panic: %v", r),
			})
		}
	}()

	if candidate := evaluate(); candidate != nil {
		*candidates = append(*candidates, candidate)
	}
}
