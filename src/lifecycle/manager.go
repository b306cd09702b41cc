package lifecycle

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	logger "github.com/sirupsen/logrus"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/domain"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/model"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/repository"
)

// minNarrativeLength is the shortest closure narrative accepted by the
// close command.
const minNarrativeLength = 10

// ExceptionStore is the slice of the exception repository the manager needs.
type ExceptionStore interface {
	Transition(ctx context.Context, id string, upd repository.StatusUpdate) (*model.Exception, error)
}

// Manager exposes the admin-only lifecycle commands. There is no delete:
// the audit trail is permanent.
type Manager struct {
	store ExceptionStore
}

func NewManager(store ExceptionStore) *Manager {
	return &Manager{store: store}
}

// NewDefaultManager wires the manager to the production repository.
func NewDefaultManager() *Manager {
	return NewManager(repository.NewExceptionRepository())
}

// Acknowledge moves an OPEN exception to ACKNOWLEDGED on behalf of an admin.
func (m *Manager) Acknowledge(ctx context.Context, id string, actor *model.User, notes string) (*model.Exception, error) {
	if actor == nil || !actor.IsAdmin() {
		return nil, &domain.PermissionDeniedError{Action: "acknowledge exception"}
	}

	now := time.Now().UTC()
	exc, err := m.store.Transition(ctx, id, repository.StatusUpdate{
		From:  []model.ExceptionStatus{model.StatusOpen},
		To:    model.StatusAcknowledged,
		Actor: actor.UserName,
		Note:  notes,
		Fields: map[string]interface{}{
			"acknowledged_at": now,
			"acknowledged_by": actor.UserName,
		},
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"exception_id": id,
		"actor":        actor.UserName,
	}).Info("Exception acknowledged")

	return exc, nil
}

// Close moves an OPEN or ACKNOWLEDGED exception to CLOSED on behalf of an
// admin, recording the reason and a narrative of at least ten characters.
func (m *Manager) Close(ctx context.Context, id string, actor *model.User, reason model.ClosureReason, narrative string) (*model.Exception, error) {
	if actor == nil || !actor.IsAdmin() {
		return nil, &domain.PermissionDeniedError{Action: "close exception"}
	}

	if !reason.Valid() {
		return nil, &domain.ValidationError{
			Field:  "reason",
			Reason: "must be one of NO_LONGER_EXCEPTION, EXCEPTION_OVERRIDDEN, OTHER",
		}
	}

	narrative = strings.TrimSpace(narrative)
	if utf8.RuneCountInString(narrative) < minNarrativeLength {
		return nil, &domain.ValidationError{
			Field:  "narrative",
			Reason: "must be at least 10 characters",
		}
	}

	now := time.Now().UTC()
	exc, err := m.store.Transition(ctx, id, repository.StatusUpdate{
		From:  []model.ExceptionStatus{model.StatusOpen, model.StatusAcknowledged},
		To:    model.StatusClosed,
		Actor: actor.UserName,
		Note:  narrative,
		Fields: map[string]interface{}{
			"closed_at":         now,
			"closed_by":         actor.UserName,
			"closure_reason":    reason,
			"closure_narrative": narrative,
			"auto_closed":       false,
		},
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"exception_id": id,
		"actor":        actor.UserName,
		"reason":       reason,
	}).Info("Exception closed")

	return exc, nil
}
