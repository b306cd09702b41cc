package autoclose

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/domain"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/externalmodel"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/model"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/repository"
)

// ExceptionStore is the slice of the exception repository the monitor needs.
type ExceptionStore interface {
	FindAutoClosable(ctx context.Context, excType model.ExceptionType, modelID uint, metricKey string) ([]model.Exception, error)
	Transition(ctx context.Context, id string, upd repository.StatusUpdate) (*model.Exception, error)
}

// Monitor reacts to upstream events and closes exceptions whose underlying
// condition has resolved. It runs synchronously when the triggering event
// occurs; there is no periodic schedule. OUTSIDE_INTENDED_PURPOSE exceptions
// are never touched here: releasing a use-restriction finding requires
// human judgment.
type Monitor struct {
	store ExceptionStore
}

func NewMonitor(store ExceptionStore) *Monitor {
	return &Monitor{store: store}
}

// NewDefaultMonitor wires the monitor to the production repository.
func NewDefaultMonitor() *Monitor {
	return NewMonitor(repository.NewExceptionRepository())
}

// OnMonitoringResultRecorded closes the OPEN or ACKNOWLEDGED
// UNMITIGATED_PERFORMANCE exceptions of the model whose source result is for
// the same metric, once that metric comes back GREEN or YELLOW. Returns how
// many exceptions were closed.
func (m *Monitor) OnMonitoringResultRecorded(ctx context.Context, res externalmodel.MonitoringResult) (int, error) {
	if res.Outcome == externalmodel.OutcomeRed {
		return 0, nil
	}

	candidates, err := m.store.FindAutoClosable(ctx,
		model.TypeUnmitigatedPerformance, res.ModelID, res.MetricKey)
	if err != nil {
		return 0, fmt.Errorf("failed to find auto-closable exceptions: %w", err)
	}

	narrative := fmt.Sprintf(
		"Metric %s returned %s in monitoring cycle %d; the performance condition no longer holds",
		res.MetricKey, res.Outcome, res.CycleID)

	return m.closeAll(ctx, candidates, narrative)
}

// OnValidationApproved closes the OPEN or ACKNOWLEDGED
// USE_PRIOR_TO_VALIDATION exceptions of the model once a full validation
// (Initial, Comprehensive or Targeted Review) reaches APPROVED. Interim
// validations do not fully clear governance concerns and are ignored.
func (m *Monitor) OnValidationApproved(ctx context.Context, ev externalmodel.ValidationApproved) (int, error) {
	if ev.Status != externalmodel.ValidationStatusApproved || !ev.ValidationType.IsFull() {
		return 0, nil
	}

	candidates, err := m.store.FindAutoClosable(ctx,
		model.TypeUsePriorToValidation, ev.ModelID, "")
	if err != nil {
		return 0, fmt.Errorf("failed to find auto-closable exceptions: %w", err)
	}

	narrative := fmt.Sprintf(
		"%s validation approved on %s; the model is no longer in use prior to validation",
		ev.ValidationType, ev.ApprovedAt.Format("2006-01-02"))

	return m.closeAll(ctx, candidates, narrative)
}

func (m *Monitor) closeAll(ctx context.Context, candidates []model.Exception, narrative string) (int, error) {
	closed := 0
	now := time.Now().UTC()
	reason := model.ClosureNoLongerException

	for _, exc := range candidates {
		_, err := m.store.Transition(ctx, exc.ID, repository.StatusUpdate{
			From: []model.ExceptionStatus{model.StatusOpen, model.StatusAcknowledged},
			To:   model.StatusClosed,
			Note: narrative,
			Fields: map[string]interface{}{
				"closed_at":         now,
				"closed_by":         nil,
				"closure_reason":    reason,
				"closure_narrative": narrative,
				"auto_closed":       true,
			},
		})
		if err != nil {
			// A concurrent admin close is fine: the condition is resolved
			// either way.
			if domain.IsInvalidStateTransition(err) {
				logger.WithField("exception_id", exc.ID).
					Debug("Exception already closed concurrently, skipping auto-close")
				continue
			}
			return closed, fmt.Errorf("failed to auto-close exception %s: %w", exc.ID, err)
		}

		logger.WithFields(map[string]interface{}{
			"exception_id": exc.ID,
			"code":         exc.Code,
			"type":         exc.Type,
		}).Info("Exception auto-closed")
		closed++
	}

	return closed, nil
}
