package rules

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/externalmodel"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/model"
)

func redResult(id uint, modelID uint, metric string) externalmodel.MonitoringResult {
	return externalmodel.MonitoringResult{
		ID:            id,
		CycleID:       id + 100,
		ModelID:       modelID,
		MetricKey:     metric,
		Outcome:       externalmodel.OutcomeRed,
		ObservedValue: decimal.NewFromFloat(0.31),
		Threshold:     decimal.NewFromFloat(0.25),
		ApprovedAt:    time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateCycleApproved(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name          string
		event         externalmodel.CycleApproved
		wantCandidate bool
		wantContains  []string
	}{
		{
			name: "RED without recommendation fires",
			event: externalmodel.CycleApproved{
				Result:                  redResult(1, 42, "PSI"),
				HasActiveRecommendation: false,
			},
			wantCandidate: true,
			wantContains:  []string{"no active recommendation"},
		},
		{
			name: "RED persisting with recommendation fires",
			event: externalmodel.CycleApproved{
				Result:                  redResult(2, 42, "PSI"),
				HasActiveRecommendation: true,
				PriorOutcomes:           []externalmodel.Outcome{externalmodel.OutcomeRed},
			},
			wantCandidate: true,
			wantContains:  []string{"persisting"},
		},
		{
			name: "both conditions produce one candidate recording both",
			event: externalmodel.CycleApproved{
				Result:                  redResult(3, 42, "PSI"),
				HasActiveRecommendation: false,
				PriorOutcomes:           []externalmodel.Outcome{externalmodel.OutcomeRed, externalmodel.OutcomeRed},
			},
			wantCandidate: true,
			wantContains:  []string{"no active recommendation", "persisting"},
		},
		{
			name: "RED with recommendation and clean history does not fire",
			event: externalmodel.CycleApproved{
				Result:                  redResult(4, 42, "PSI"),
				HasActiveRecommendation: true,
				PriorOutcomes:           []externalmodel.Outcome{externalmodel.OutcomeGreen, externalmodel.OutcomeRed},
			},
			wantCandidate: false,
		},
		{
			name: "GREEN never fires",
			event: externalmodel.CycleApproved{
				Result: externalmodel.MonitoringResult{
					ID: 5, ModelID: 42, MetricKey: "PSI",
					Outcome: externalmodel.OutcomeGreen,
				},
				HasActiveRecommendation: false,
			},
			wantCandidate: false,
		},
		{
			name: "YELLOW never fires",
			event: externalmodel.CycleApproved{
				Result: externalmodel.MonitoringResult{
					ID: 6, ModelID: 42, MetricKey: "PSI",
					Outcome: externalmodel.OutcomeYellow,
				},
				HasActiveRecommendation: false,
			},
			wantCandidate: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate := EvaluateCycleApproved(tt.event, cfg)

			if !tt.wantCandidate {
				if candidate != nil {
					t.Fatalf("expected no candidate, got %+v", candidate)
				}
				return
			}

			if candidate == nil {
				t.Fatal("expected a candidate, got nil")
			}
			if candidate.Type != model.TypeUnmitigatedPerformance {
				t.Fatalf("unexpected type %s", candidate.Type)
			}
			if candidate.ModelID != tt.event.Result.ModelID {
				t.Fatalf("unexpected model id %d", candidate.ModelID)
			}
			if want := MonitoringResultRef(tt.event.Result.ID); candidate.SourceReference != want {
				t.Fatalf("expected source reference %s, got %s", want, candidate.SourceReference)
			}
			if candidate.MetricKey != tt.event.Result.MetricKey {
				t.Fatalf("expected metric key %s, got %s", tt.event.Result.MetricKey, candidate.MetricKey)
			}
			for _, fragment := range tt.wantContains {
				if !strings.Contains(candidate.Description, fragment) {
					t.Fatalf("description %q missing %q", candidate.Description, fragment)
				}
			}
		})
	}
}

func TestEvaluateCycleApproved_PersistenceWindow(t *testing.T) {
	ev := externalmodel.CycleApproved{
		Result:                  redResult(10, 7, "KS"),
		HasActiveRecommendation: true,
		PriorOutcomes:           []externalmodel.Outcome{externalmodel.OutcomeRed, externalmodel.OutcomeGreen},
	}

	// two consecutive REDs fire with the default window
	if got := EvaluateCycleApproved(ev, Config{RedPersistenceCycles: 2}); got == nil {
		t.Fatal("expected candidate with window 2")
	}

	// a wider window needs a longer run
	if got := EvaluateCycleApproved(ev, Config{RedPersistenceCycles: 3}); got != nil {
		t.Fatalf("expected no candidate with window 3, got %+v", got)
	}

	ev.PriorOutcomes = []externalmodel.Outcome{externalmodel.OutcomeRed, externalmodel.OutcomeRed}
	if got := EvaluateCycleApproved(ev, Config{RedPersistenceCycles: 3}); got == nil {
		t.Fatal("expected candidate with window 3 and three consecutive REDs")
	}

	// the run must be consecutive from the current cycle backwards
	ev.PriorOutcomes = []externalmodel.Outcome{externalmodel.OutcomeGreen, externalmodel.OutcomeRed, externalmodel.OutcomeRed}
	if got := EvaluateCycleApproved(ev, Config{RedPersistenceCycles: 2}); got != nil {
		t.Fatalf("expected no candidate for a broken run, got %+v", got)
	}
}

func TestEvaluateAttestationSubmitted(t *testing.T) {
	ev := externalmodel.AttestationSubmitted{
		ResponseID:            55,
		ModelID:               7,
		UseRestrictionsAnswer: "No",
	}

	candidate := EvaluateAttestationSubmitted(ev)
	if candidate == nil {
		t.Fatal("expected a candidate for answer No")
	}
	if candidate.Type != model.TypeOutsideIntendedPurpose {
		t.Fatalf("unexpected type %s", candidate.Type)
	}
	if want := AttestationRef(55); candidate.SourceReference != want {
		t.Fatalf("expected source reference %s, got %s", want, candidate.SourceReference)
	}

	ev.UseRestrictionsAnswer = "Yes"
	if got := EvaluateAttestationSubmitted(ev); got != nil {
		t.Fatalf("expected no candidate for answer Yes, got %+v", got)
	}
}

func TestEvaluateDeploymentConfirmed(t *testing.T) {
	ev := externalmodel.DeploymentConfirmed{
		TaskID:                           91,
		ModelID:                          15,
		DeployedBeforeValidationApproved: true,
	}

	candidate := EvaluateDeploymentConfirmed(ev)
	if candidate == nil {
		t.Fatal("expected a candidate for premature deployment")
	}
	if candidate.Type != model.TypeUsePriorToValidation {
		t.Fatalf("unexpected type %s", candidate.Type)
	}
	if want := DeploymentTaskRef(91); candidate.SourceReference != want {
		t.Fatalf("expected source reference %s, got %s", want, candidate.SourceReference)
	}

	ev.DeployedBeforeValidationApproved = false
	if got := EvaluateDeploymentConfirmed(ev); got != nil {
		t.Fatalf("expected no candidate, got %+v", got)
	}
}
