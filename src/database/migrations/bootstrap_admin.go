package migrations

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/model"
)

type bootstrapConfig struct {
	AdminUserName string `envconfig:"BOOTSTRAP_ADMIN_USER"`
	AdminToken    string `envconfig:"BOOTSTRAP_ADMIN_TOKEN"`
}

// seedBootstrapAdmin provisions the first admin account so a fresh deployment
// has an identity allowed to run acknowledge, close and detect-all. Skipped
// until both environment variables are set; an account created by other
// means is left untouched.
func seedBootstrapAdmin(db *gorm.DB) error {
	var config bootstrapConfig
	if err := envconfig.Process("", &config); err != nil {
		return fmt.Errorf("process bootstrap admin config: %w", err)
	}

	if config.AdminUserName == "" || config.AdminToken == "" {
		return ErrSkipped
	}

	var existing model.User
	err := db.Where("user_name = ?", config.AdminUserName).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(config.AdminToken), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash bootstrap admin token: %w", err)
	}

	admin := model.User{
		UserName:     config.AdminUserName,
		DisplayName:  config.AdminUserName,
		Role:         model.RoleAdmin,
		APITokenHash: string(hash),
	}
	return db.Create(&admin).Error
}
