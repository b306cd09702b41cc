package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/database"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/domain"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/model"
)

// PageSize is the fixed page size of exception list queries.
const PageSize = 50

// ExceptionRepository handles persistence of governance exceptions, their
// audit trail and the per-year code sequences.
type ExceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new repository instance using the main
// read/write database.
func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create inserts a new exception in OPEN status, assigning its code from the
// per-year sequence inside the same transaction as the row insert, along
// with the initial audit entry. Returns domain.ErrDuplicateSourceRecord when
// an exception already exists for the same source reference; the unique
// index on source_reference is the sole arbiter, so concurrent creations for
// the same record converge to exactly one row.
func (r *ExceptionRepository) Create(
	ctx context.Context,
	exc *model.Exception,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":       "ExceptionRepository",
		"op":         "Create",
		"model_id":   exc.ModelID,
		"type":       exc.Type,
		"source_ref": exc.SourceReference,
	}).Debug("Creating new exception")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		code, err := nextCode(tx, exc.DetectedAt.Year())
		if err != nil {
			return fmt.Errorf("failed to assign exception code: %w", err)
		}

		if exc.ID == "" {
			exc.ID = uuid.NewString()
		}
		exc.Code = code
		exc.Status = model.StatusOpen

		if err := tx.Create(exc).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrDuplicateSourceRecord
			}
			return err
		}

		entry := model.StatusTransition{
			ExceptionID: exc.ID,
			OccurredAt:  time.Now().UTC(),
			Actor:       model.SystemActor,
			ToStatus:    model.StatusOpen,
			Note:        exc.Description,
		}
		return tx.Create(&entry).Error
	})

	if err != nil {
		if errors.Is(err, domain.ErrDuplicateSourceRecord) {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"repo": "ExceptionRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create exception")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo": "ExceptionRepository",
		"op":   "Create",
		"code": exc.Code,
	}).Info("Exception created")

	return nil
}

// nextCode increments the per-year counter under a row lock so that two
// concurrent creations within the same year never receive the same code.
// The counter row is created on the first detection of a new year.
func nextCode(tx *gorm.DB, year int) (string, error) {
	seed := model.CodeSequence{Year: year}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return "", err
	}

	var seq model.CodeSequence
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&seq, "year = ?", year).Error; err != nil {
		return "", err
	}

	seq.LastValue++
	if err := tx.Model(&model.CodeSequence{}).
		Where("year = ?", year).
		Update("last_value", seq.LastValue).Error; err != nil {
		return "", err
	}

	return fmt.Sprintf("EXC-%d-%05d", year, seq.LastValue), nil
}

// FindByID fetches a single exception with its full audit trail.
func (r *ExceptionRepository) FindByID(
	ctx context.Context,
	id string,
) (*model.Exception, error) {

	var exc model.Exception
	err := r.db.WithContext(ctx).
		Preload("Transitions", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		First(&exc, "id = ?", id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.NotFoundError{Resource: "exception", ID: id}
		}
		return nil, err
	}

	return &exc, nil
}

// ExceptionSearchOptions are the list filters of the query surface. Paging
// is fixed at PageSize items per page.
type ExceptionSearchOptions struct {
	Status *model.ExceptionStatus
	Type   *model.ExceptionType
	Region *string
	Page   int
}

// Search lists exceptions, newest detections first.
func (r *ExceptionRepository) Search(
	ctx context.Context,
	options ExceptionSearchOptions,
) ([]model.Exception, error) {

	query := r.db.WithContext(ctx).Model(&model.Exception{})

	if options.Status != nil {
		query = query.Where("status = ?", *options.Status)
	}
	if options.Type != nil {
		query = query.Where("type = ?", *options.Type)
	}
	if options.Region != nil {
		query = query.Where("region = ?", *options.Region)
	}

	page := options.Page
	if page < 1 {
		page = 1
	}

	var exceptions []model.Exception
	err := query.
		Order("detected_at DESC, code DESC").
		Limit(PageSize).
		Offset((page - 1) * PageSize).
		Find(&exceptions).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExceptionRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search exceptions")
		return nil, err
	}

	return exceptions, nil
}

// FindAutoClosable lists OPEN or ACKNOWLEDGED exceptions of the given type
// for one model, optionally narrowed to the metric the source reference
// resolves to.
func (r *ExceptionRepository) FindAutoClosable(
	ctx context.Context,
	excType model.ExceptionType,
	modelID uint,
	metricKey string,
) ([]model.Exception, error) {

	query := r.db.WithContext(ctx).
		Where("type = ?", excType).
		Where("model_id = ?", modelID).
		Where("status IN ?", []model.ExceptionStatus{model.StatusOpen, model.StatusAcknowledged})

	if metricKey != "" {
		query = query.Where("metric_key = ?", metricKey)
	}

	var exceptions []model.Exception
	if err := query.Find(&exceptions).Error; err != nil {
		return nil, err
	}

	return exceptions, nil
}

// StatusUpdate describes one status transition: the statuses it may start
// from, the target status, the fields to set alongside it and the audit
// entry to append. An empty Actor is recorded as the system.
type StatusUpdate struct {
	From   []model.ExceptionStatus
	To     model.ExceptionStatus
	Actor  string
	Note   string
	Fields map[string]interface{}
}

// Transition applies a compare-and-swap status change: the row is written
// only if its status is still the one read at the start of the transaction,
// so a concurrent conflicting action surfaces InvalidStateTransition to the
// loser instead of silently overwriting. The audit entry is appended in the
// same transaction.
func (r *ExceptionRepository) Transition(
	ctx context.Context,
	id string,
	upd StatusUpdate,
) (*model.Exception, error) {

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exc model.Exception
		if err := tx.First(&exc, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &domain.NotFoundError{Resource: "exception", ID: id}
			}
			return err
		}

		if !statusIn(exc.Status, upd.From) {
			return &domain.InvalidStateTransitionError{
				Current:   string(exc.Status),
				Attempted: string(upd.To),
			}
		}

		fields := map[string]interface{}{"status": upd.To}
		for k, v := range upd.Fields {
			fields[k] = v
		}

		res := tx.Model(&model.Exception{}).
			Where("id = ? AND status = ?", id, exc.Status).
			Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// lost the race against a concurrent transition
			return &domain.InvalidStateTransitionError{
				Current:   string(exc.Status),
				Attempted: string(upd.To),
			}
		}

		actor := upd.Actor
		if actor == "" {
			actor = model.SystemActor
		}
		entry := model.StatusTransition{
			ExceptionID: id,
			OccurredAt:  time.Now().UTC(),
			Actor:       actor,
			FromStatus:  exc.Status,
			ToStatus:    upd.To,
			Note:        upd.Note,
		}
		return tx.Create(&entry).Error
	})

	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":         "ExceptionRepository",
		"op":           "Transition",
		"exception_id": id,
		"to":           upd.To,
	}).Info("Exception status transitioned")

	return r.FindByID(ctx, id)
}

// TypeStatusCount is one cell of the summary projection.
type TypeStatusCount struct {
	Type   model.ExceptionType   `json:"type"`
	Status model.ExceptionStatus `json:"status"`
	Count  int64                 `json:"count"`
}

// Summary recomputes the open/acknowledged/closed counts by type on every
// call. Derived projection only; nothing here is stored.
func (r *ExceptionRepository) Summary(ctx context.Context) ([]TypeStatusCount, error) {
	var counts []TypeStatusCount
	err := r.db.WithContext(ctx).
		Model(&model.Exception{}).
		Select("type, status, COUNT(*) AS count").
		Group("type").
		Group("status").
		Order("type, status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// ExistingSourceReferences returns which of the given source references
// already have an exception. Batch detection uses it to skip records that
// are already covered; the unique index remains the final authority.
func (r *ExceptionRepository) ExistingSourceReferences(
	ctx context.Context,
	refs []string,
) (map[string]bool, error) {

	if len(refs) == 0 {
		return map[string]bool{}, nil
	}

	var existing []string
	err := r.db.WithContext(ctx).
		Model(&model.Exception{}).
		Where("source_reference IN ?", refs).
		Pluck("source_reference", &existing).Error
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool, len(existing))
	for _, ref := range existing {
		found[ref] = true
	}
	return found, nil
}

func statusIn(status model.ExceptionStatus, allowed []model.ExceptionStatus) bool {
	for _, s := range allowed {
		if status == s {
			return true
		}
	}
	return false
}
