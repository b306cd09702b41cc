package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sirupsen/logrus"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/externalmodel"
)

// ReadOnlyDB is the read-only connection to the upstream monitoring,
// attestation and deployment schemas polled by batch detection. The database
// user for this connection should have SELECT-only permissions.
var ReadOnlyDB *gorm.DB

// InitReadOnlyDB initializes the read-only database connection. It does not
// run any migrations; those schemas belong to the upstream domains.
func InitReadOnlyDB() error {
	config := GetConfig()
	db, err := gorm.Open(postgres.Open(config.DatabaseURLReadOnly),
		&gorm.Config{
			PrepareStmt:    true,
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to connect to read-only database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from ReadOnlyDB: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping ReadOnlyDB: %w", err)
	}

	// Verify the upstream tables are really reachable before batch
	// detection depends on them.
	var count int64
	if err := db.
		Model(&externalmodel.MonitoringResultRecord{}).
		Count(&count).Error; err != nil {

		return fmt.Errorf("failed to access monitoring_results: %w", err)
	}

	logrus.WithField("monitoring_results", count).Info("[ReadOnlyDB] upstream schemas reachable")

	ReadOnlyDB = db

	return nil
}
