package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/database"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/externalmodel"
)

// priorOutcomeWindow caps how many preceding results are loaded per metric
// when reconstructing the persistence context of a RED result.
const priorOutcomeWindow = 10

// UpstreamRepository reads the monitoring, attestation and deployment
// schemas through the read-only connection. Batch detection polls it for
// candidate events; it never writes.
type UpstreamRepository struct {
	db *gorm.DB
}

// NewUpstreamRepository creates a new repository instance using the
// read-only upstream database.
func NewUpstreamRepository() *UpstreamRepository {
	return &UpstreamRepository{
		db: database.ReadOnlyDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *UpstreamRepository) WithDB(db *gorm.DB) *UpstreamRepository {
	return &UpstreamRepository{db: db}
}

// PendingCycleApprovals returns the approved RED monitoring results for one
// model, each packaged with the recommendation linkage and the outcomes of
// the preceding cycles for the same metric.
func (r *UpstreamRepository) PendingCycleApprovals(
	ctx context.Context,
	modelID uint,
) ([]externalmodel.CycleApproved, error) {

	var results []externalmodel.MonitoringResultRecord
	err := r.db.WithContext(ctx).
		Where("model_id = ?", modelID).
		Where("cycle_approved = ?", true).
		Where("outcome = ?", string(externalmodel.OutcomeRed)).
		Order("approved_at ASC, id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	events := make([]externalmodel.CycleApproved, 0, len(results))
	for _, rec := range results {
		hasRec, err := r.hasActiveRecommendation(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		prior, err := r.priorOutcomes(ctx, rec)
		if err != nil {
			return nil, err
		}

		ev := externalmodel.CycleApproved{
			Result: externalmodel.MonitoringResult{
				ID:            rec.ID,
				CycleID:       rec.CycleID,
				ModelID:       rec.ModelID,
				MetricKey:     rec.MetricKey,
				Outcome:       externalmodel.Outcome(rec.Outcome),
				ObservedValue: rec.ObservedValue,
				Threshold:     rec.Threshold,
			},
			HasActiveRecommendation: hasRec,
			PriorOutcomes:           prior,
		}
		if rec.ApprovedAt != nil {
			ev.Result.ApprovedAt = *rec.ApprovedAt
		}
		events = append(events, ev)
	}

	return events, nil
}

func (r *UpstreamRepository) hasActiveRecommendation(ctx context.Context, resultID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&externalmodel.RecommendationRecord{}).
		Where("result_id = ?", resultID).
		Where("active = ?", true).
		Count(&count).Error
	return count > 0, err
}

// priorOutcomes loads the outcomes of the approved results immediately
// preceding rec for the same model and metric, most recent first.
func (r *UpstreamRepository) priorOutcomes(
	ctx context.Context,
	rec externalmodel.MonitoringResultRecord,
) ([]externalmodel.Outcome, error) {

	query := r.db.WithContext(ctx).
		Model(&externalmodel.MonitoringResultRecord{}).
		Where("model_id = ?", rec.ModelID).
		Where("metric_key = ?", rec.MetricKey).
		Where("cycle_approved = ?", true).
		Where("id <> ?", rec.ID)
	if rec.ApprovedAt != nil {
		query = query.Where("approved_at < ?", *rec.ApprovedAt)
	}

	var prior []externalmodel.MonitoringResultRecord
	err := query.
		Order("approved_at DESC, id DESC").
		Limit(priorOutcomeWindow).
		Find(&prior).Error
	if err != nil {
		return nil, err
	}

	outcomes := make([]externalmodel.Outcome, 0, len(prior))
	for _, p := range prior {
		outcomes = append(outcomes, externalmodel.Outcome(p.Outcome))
	}
	return outcomes, nil
}

// PendingAttestations returns the submitted attestation responses for one
// model that answered No on the use-restrictions question.
func (r *UpstreamRepository) PendingAttestations(
	ctx context.Context,
	modelID uint,
) ([]externalmodel.AttestationSubmitted, error) {

	var records []externalmodel.AttestationResponseRecord
	err := r.db.WithContext(ctx).
		Where("model_id = ?", modelID).
		Where("submitted = ?", true).
		Where("LOWER(use_restrictions_answer) = ?", "no").
		Order("submitted_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	events := make([]externalmodel.AttestationSubmitted, 0, len(records))
	for _, rec := range records {
		ev := externalmodel.AttestationSubmitted{
			ResponseID:            rec.ID,
			ModelID:               rec.ModelID,
			UseRestrictionsAnswer: rec.UseRestrictionsAnswer,
		}
		if rec.SubmittedAt != nil {
			ev.SubmittedAt = *rec.SubmittedAt
		}
		events = append(events, ev)
	}

	return events, nil
}

// PendingDeployments returns the confirmed deployment tasks for one model
// flagged as deployed before validation approval.
func (r *UpstreamRepository) PendingDeployments(
	ctx context.Context,
	modelID uint,
) ([]externalmodel.DeploymentConfirmed, error) {

	var records []externalmodel.DeploymentTaskRecord
	err := r.db.WithContext(ctx).
		Where("model_id = ?", modelID).
		Where("confirmed = ?", true).
		Where("deployed_before_validation_approved = ?", true).
		Order("confirmed_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "UpstreamRepository",
			"op":       "PendingDeployments",
			"model_id": modelID,
		}).WithError(err).Error("Failed to load deployment tasks")
		return nil, err
	}

	events := make([]externalmodel.DeploymentConfirmed, 0, len(records))
	for _, rec := range records {
		ev := externalmodel.DeploymentConfirmed{
			TaskID:                           rec.ID,
			ModelID:                          rec.ModelID,
			DeployedBeforeValidationApproved: rec.DeployedBeforeValidationApproved,
		}
		if rec.ConfirmedAt != nil {
			ev.ConfirmedAt = *rec.ConfirmedAt
		}
		events = append(events, ev)
	}

	return events, nil
}
