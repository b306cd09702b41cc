package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/database"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/model"
)

type GormUserRepository struct {
	db *gorm.DB
}

func NewUserRepository() *GormUserRepository {
	return &GormUserRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *GormUserRepository) WithDB(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) GetUserByUserName(
	ctx context.Context,
	userName string,
) (*model.User, error) {

	var u model.User
	err := r.db.WithContext(ctx).
		Where("user_name = ? ", userName).
		First(&u).Error

	if err != nil {
		return nil, err
	}

	return &u, nil
}

// Upsert creates the user, or rotates the role and token hash of an
// existing one.
func (r *GormUserRepository) Upsert(
	ctx context.Context,
	u *model.User,
) error {

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "email", "role", "api_token_hash", "updated_at"}),
		}).
		Create(u).Error
}
