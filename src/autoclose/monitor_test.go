package autoclose

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/domain"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/externalmodel"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/model"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/repository"
)

type findCall struct {
	excType   model.ExceptionType
	modelID   uint
	metricKey string
}

type fakeCloserStore struct {
	candidates  []model.Exception
	findCalls   []findCall
	transitions map[string]repository.StatusUpdate
	failIDs     map[string]error
}

func newFakeCloserStore(candidates ...model.Exception) *fakeCloserStore {
	return &fakeCloserStore{
		candidates:  candidates,
		transitions: map[string]repository.StatusUpdate{},
		failIDs:     map[string]error{},
	}
}

func (s *fakeCloserStore) FindAutoClosable(_ context.Context, excType model.ExceptionType, modelID uint, metricKey string) ([]model.Exception, error) {
	s.findCalls = append(s.findCalls, findCall{excType: excType, modelID: modelID, metricKey: metricKey})
	return s.candidates, nil
}

func (s *fakeCloserStore) Transition(_ context.Context, id string, upd repository.StatusUpdate) (*model.Exception, error) {
	if err := s.failIDs[id]; err != nil {
		return nil, err
	}
	s.transitions[id] = upd
	return &model.Exception{ID: id, Status: upd.To}, nil
}

func greenResult(modelID uint, metric string) externalmodel.MonitoringResult {
	return externalmodel.MonitoringResult{
		ID:        500,
		CycleID:   501,
		ModelID:   modelID,
		MetricKey: metric,
		Outcome:   externalmodel.OutcomeGreen,
	}
}

func TestOnMonitoringResultRecorded_ClosesMatchingExceptions(t *testing.T) {
	store := newFakeCloserStore(
		model.Exception{ID: "a", Code: "EXC-2025-00001", Type: model.TypeUnmitigatedPerformance, Status: model.StatusOpen},
		model.Exception{ID: "b", Code: "EXC-2025-00002", Type: model.TypeUnmitigatedPerformance, Status: model.StatusAcknowledged},
	)
	monitor := NewMonitor(store)

	closed, err := monitor.OnMonitoringResultRecorded(context.Background(), greenResult(42, "PSI"))
	require.NoError(t, err)
	require.Equal(t, 2, closed)

	// the store query carries the exact type/model/metric scope
	require.Len(t, store.findCalls, 1)
	require.Equal(t, findCall{
		excType:   model.TypeUnmitigatedPerformance,
		modelID:   42,
		metricKey: "PSI",
	}, store.findCalls[0])

	for _, id := range []string{"a", "b"} {
		upd, ok := store.transitions[id]
		require.True(t, ok, "exception %s not transitioned", id)
		require.Equal(t, model.StatusClosed, upd.To)
		require.Empty(t, upd.Actor)
		require.Equal(t, model.ClosureNoLongerException, upd.Fields["closure_reason"])
		require.Equal(t, true, upd.Fields["auto_closed"])
		require.Nil(t, upd.Fields["closed_by"])
		require.Contains(t, upd.Fields["closure_narrative"], "cycle 501")
	}
}

func TestOnMonitoringResultRecorded_RedDoesNothing(t *testing.T) {
	store := newFakeCloserStore()
	monitor := NewMonitor(store)

	res := greenResult(42, "PSI")
	res.Outcome = externalmodel.OutcomeRed

	closed, err := monitor.OnMonitoringResultRecorded(context.Background(), res)
	require.NoError(t, err)
	require.Zero(t, closed)
	require.Empty(t, store.findCalls)
}

func TestOnMonitoringResultRecorded_SkipsConcurrentlyClosed(t *testing.T) {
	store := newFakeCloserStore(
		model.Exception{ID: "a", Type: model.TypeUnmitigatedPerformance, Status: model.StatusOpen},
		model.Exception{ID: "b", Type: model.TypeUnmitigatedPerformance, Status: model.StatusOpen},
	)
	store.failIDs["a"] = &domain.InvalidStateTransitionError{Current: "CLOSED", Attempted: "CLOSED"}
	monitor := NewMonitor(store)

	closed, err := monitor.OnMonitoringResultRecorded(context.Background(), greenResult(42, "PSI"))
	require.NoError(t, err)
	require.Equal(t, 1, closed)
}

func validationApproval(modelID uint, kind externalmodel.ValidationType) externalmodel.ValidationApproved {
	return externalmodel.ValidationApproved{
		RequestID:      900,
		ModelID:        modelID,
		ValidationType: kind,
		Status:         externalmodel.ValidationStatusApproved,
		ApprovedAt:     time.Date(2025, time.July, 3, 0, 0, 0, 0, time.UTC),
	}
}

func TestOnValidationApproved_FullKindsClose(t *testing.T) {
	for _, kind := range []externalmodel.ValidationType{
		externalmodel.ValidationInitial,
		externalmodel.ValidationComprehensive,
		externalmodel.ValidationTargetedReview,
	} {
		t.Run(string(kind), func(t *testing.T) {
			store := newFakeCloserStore(
				model.Exception{ID: "x", Type: model.TypeUsePriorToValidation, Status: model.StatusOpen},
			)
			monitor := NewMonitor(store)

			closed, err := monitor.OnValidationApproved(context.Background(), validationApproval(15, kind))
			require.NoError(t, err)
			require.Equal(t, 1, closed)

			require.Equal(t, findCall{
				excType: model.TypeUsePriorToValidation,
				modelID: 15,
			}, store.findCalls[0])

			upd := store.transitions["x"]
			require.Contains(t, upd.Fields["closure_narrative"], "2025-07-03")
		})
	}
}

func TestOnValidationApproved_InterimNeverCloses(t *testing.T) {
	store := newFakeCloserStore(
		model.Exception{ID: "x", Type: model.TypeUsePriorToValidation, Status: model.StatusOpen},
	)
	monitor := NewMonitor(store)

	closed, err := monitor.OnValidationApproved(context.Background(),
		validationApproval(15, externalmodel.ValidationInterim))
	require.NoError(t, err)
	require.Zero(t, closed)
	require.Empty(t, store.findCalls)
}

func TestOnValidationApproved_NonApprovedStatusIgnored(t *testing.T) {
	store := newFakeCloserStore()
	monitor := NewMonitor(store)

	ev := validationApproval(15, externalmodel.ValidationInitial)
	ev.Status = "REJECTED"

	closed, err := monitor.OnValidationApproved(context.Background(), ev)
	require.NoError(t, err)
	require.Zero(t, closed)
	require.Empty(t, store.findCalls)
}

// No trigger handled by the monitor ever queries OUTSIDE_INTENDED_PURPOSE
// exceptions: releasing a use-restriction finding takes an explicit admin
// close.
func TestMonitor_NeverTouchesOutsideIntendedPurpose(t *testing.T) {
	store := newFakeCloserStore()
	monitor := NewMonitor(store)

	_, err := monitor.OnMonitoringResultRecorded(context.Background(), greenResult(7, "PSI"))
	require.NoError(t, err)
	_, err = monitor.OnValidationApproved(context.Background(),
		validationApproval(7, externalmodel.ValidationComprehensive))
	require.NoError(t, err)

	for _, call := range store.findCalls {
		require.NotEqual(t, model.TypeOutsideIntendedPurpose, call.excType)
	}
}
