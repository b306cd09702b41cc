package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/database/migrations"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/model"
)

// MainDB is the primary read/write database connection holding the exception
// store: exceptions, their audit trail and the per-year code sequences.
var MainDB *gorm.DB

// InitMainDB initializes the main (read/write) database connection and runs
// migrations. This should be called once at application startup.
func InitMainDB() error {

	config := GetConfig()
	db, err := gorm.Open(openDialector(config),
		&gorm.Config{
			// TranslateError maps driver duplicate-key failures onto
			// gorm.ErrDuplicatedKey, which is what makes the
			// source_reference unique index usable as the dedup arbiter.
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to connect to main database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB from GORM: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	// Assign to the global variable only after a successful connection.
	MainDB = db

	logrus.Info("[database] MainDB connection established")

	if err := MainDB.AutoMigrate(
		&model.User{},
		&model.Exception{},
		&model.StatusTransition{},
		&model.CodeSequence{},
	); err != nil {
		return fmt.Errorf("failed to run migrations on MainDB: %w", err)
	}

	if err := migrations.Run(MainDB); err != nil {
		return fmt.Errorf("failed to run data migrations on MainDB: %w", err)
	}

	logrus.Info("[database] MainDB migrations completed")

	return nil
}

func openDialector(config Config) gorm.Dialector {
	if config.Driver == "sqlite" {
		return sqlite.Open(config.SQLitePath)
	}
	return postgres.Open(config.DatabaseURLMain)
}
