package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/auth"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/detection"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/domain"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/lifecycle"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/model"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/repository"
)

type exceptionSearcher interface {
	Search(ctx context.Context, options repository.ExceptionSearchOptions) ([]model.Exception, error)
}

type exceptionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Exception, error)
}

type exceptionSummarizer interface {
	Summary(ctx context.Context) ([]repository.TypeStatusCount, error)
}

type acknowledger interface {
	Acknowledge(ctx context.Context, id string, actor *model.User, notes string) (*model.Exception, error)
}

type closer interface {
	Close(ctx context.Context, id string, actor *model.User, reason model.ClosureReason, narrative string) (*model.Exception, error)
}

type batchDetector interface {
	DetectAllActive(ctx context.Context) (*detection.Summary, error)
}

type exceptionListItem struct {
	ID             string                `json:"id"`
	Code           string                `json:"code"`
	ModelID        uint                  `json:"model_id"`
	ModelName      string                `json:"model_name,omitempty"`
	Region         string                `json:"region,omitempty"`
	Type           model.ExceptionType   `json:"type"`
	Status         model.ExceptionStatus `json:"status"`
	DetectedAt     time.Time             `json:"detected_at"`
	AcknowledgedAt *time.Time            `json:"acknowledged_at,omitempty"`
	ClosedAt       *time.Time            `json:"closed_at,omitempty"`
	AutoClosed     bool                  `json:"auto_closed"`
}

type exceptionListResponse struct {
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Items    []exceptionListItem `json:"items"`
}

// ListExceptionsHandler returns a handler that lists exceptions with
// status/type/region filters and fixed-size pagination.
func ListExceptionsHandler(repo exceptionSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetUserFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		options := repository.ExceptionSearchOptions{Page: 1}

		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			status := model.ExceptionStatus(statusParam)
			switch status {
			case model.StatusOpen, model.StatusAcknowledged, model.StatusClosed:
				options.Status = &status
			default:
				http.Error(w, "invalid status", http.StatusBadRequest)
				return
			}
		}

		if typeParam := r.URL.Query().Get("type"); typeParam != "" {
			excType := model.ExceptionType(typeParam)
			switch excType {
			case model.TypeUnmitigatedPerformance, model.TypeOutsideIntendedPurpose, model.TypeUsePriorToValidation:
				options.Type = &excType
			default:
				http.Error(w, "invalid type", http.StatusBadRequest)
				return
			}
		}

		if regionParam := r.URL.Query().Get("region"); regionParam != "" {
			options.Region = &regionParam
		}

		if pageParam := r.URL.Query().Get("page"); pageParam != "" {
			parsedPage, err := strconv.Atoi(pageParam)
			if err != nil || parsedPage <= 0 {
				http.Error(w, "invalid page", http.StatusBadRequest)
				return
			}
			options.Page = parsedPage
		}

		exceptions, err := repo.Search(r.Context(), options)
		if err != nil {
			logger.WithError(err).Error("failed to search exceptions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		items := make([]exceptionListItem, 0, len(exceptions))
		for _, exc := range exceptions {
			items = append(items, exceptionListItem{
				ID:             exc.ID,
				Code:           exc.Code,
				ModelID:        exc.ModelID,
				ModelName:      exc.ModelName,
				Region:         exc.Region,
				Type:           exc.Type,
				Status:         exc.Status,
				DetectedAt:     exc.DetectedAt,
				AcknowledgedAt: exc.AcknowledgedAt,
				ClosedAt:       exc.ClosedAt,
				AutoClosed:     exc.AutoClosed,
			})
		}

		writeJSON(w, http.StatusOK, exceptionListResponse{
			Page:     options.Page,
			PageSize: repository.PageSize,
			Items:    items,
		})
	}
}

// GetExceptionHandler returns a handler serving the full detail of one
// exception, audit trail included.
func GetExceptionHandler(repo exceptionFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetUserFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		exc, err := repo.FindByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, exc)
	}
}

// SummaryHandler returns the open/acknowledged/closed counts by type,
// recomputed on every call.
func SummaryHandler(repo exceptionSummarizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetUserFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		counts, err := repo.Summary(r.Context())
		if err != nil {
			logger.WithError(err).Error("failed to compute exception summary")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
	}
}

type acknowledgePayload struct {
	Notes string `json:"notes"`
}

// AcknowledgeExceptionHandler handles the admin acknowledge command.
func AcknowledgeExceptionHandler(mgr acknowledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload acknowledgePayload
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				http.Error(w, "Invalid payload", http.StatusBadRequest)
				return
			}
		}

		exc, err := mgr.Acknowledge(r.Context(), chi.URLParam(r, "id"), user, payload.Notes)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, exc)
	}
}

type closePayload struct {
	Reason    string `json:"reason"`
	Narrative string `json:"narrative"`
}

// CloseExceptionHandler handles the admin close command.
func CloseExceptionHandler(mgr closer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload closePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		exc, err := mgr.Close(r.Context(), chi.URLParam(r, "id"), user,
			model.ClosureReason(payload.Reason), payload.Narrative)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, exc)
	}
}

type detectAllResponse struct {
	UnmitigatedPerformanceCreated int                         `json:"unmitigated_performance_created"`
	OutsideIntendedPurposeCreated int                         `json:"outside_intended_purpose_created"`
	UsePriorToValidationCreated   int                         `json:"use_prior_to_validation_created"`
	TotalCreated                  int                         `json:"total_created"`
	EvaluationErrors              []detection.EvaluationError `json:"evaluation_errors,omitempty"`
}

// DetectAllHandler triggers a batch detection run over all active models.
// Admin only.
func DetectAllHandler(eng batchDetector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !user.IsAdmin() {
			writeDomainError(w, &domain.PermissionDeniedError{Action: "detect-all"})
			return
		}

		summary, err := eng.DetectAllActive(r.Context())
		if err != nil {
			logger.WithError(err).Error("batch detection failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, detectAllResponse{
			UnmitigatedPerformanceCreated: summary.CreatedByType[model.TypeUnmitigatedPerformance],
			OutsideIntendedPurposeCreated: summary.CreatedByType[model.TypeOutsideIntendedPurpose],
			UsePriorToValidationCreated:   summary.CreatedByType[model.TypeUsePriorToValidation],
			TotalCreated:                  summary.TotalCreated,
			EvaluationErrors:              summary.Errors,
		})
	}
}

// ----- production wiring -----

func DefaultListExceptionsHandler() http.HandlerFunc {
	return ListExceptionsHandler(repository.NewExceptionRepository())
}

func DefaultGetExceptionHandler() http.HandlerFunc {
	return GetExceptionHandler(repository.NewExceptionRepository())
}

func DefaultSummaryHandler() http.HandlerFunc {
	return SummaryHandler(repository.NewExceptionRepository())
}

func DefaultAcknowledgeExceptionHandler() http.HandlerFunc {
	return AcknowledgeExceptionHandler(lifecycle.NewDefaultManager())
}

func DefaultCloseExceptionHandler() http.HandlerFunc {
	return CloseExceptionHandler(lifecycle.NewDefaultManager())
}

func DefaultDetectAllHandler() http.HandlerFunc {
	return DetectAllHandler(detection.NewDefaultEngine())
}

// ----- helpers -----

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case domain.IsInvalidStateTransition(err):
		status = http.StatusConflict
	case domain.IsPermissionDenied(err):
		status = http.StatusForbidden
	default:
		logger.WithError(err).Error("unexpected error handling exception command")
		http.Error(w, "Internal Server Error", status)
		return
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
