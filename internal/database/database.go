package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"water-order-bot/internal/config"
	"water-order-bot/internal/model"
)

// InitDatabase opens the configured database and runs migrations
func InitDatabase(cfg config.DatabaseConfig, log logrus.FieldLogger) (*gorm.DB, error) {
	gormLogger := logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		db.Exec("PRAGMA journal_mode=WAL;")
		db.Exec("PRAGMA busy_timeout=5000;")
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := RunMigrations(db, log); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.WithField("driver", cfg.Driver).Info("Database initialized successfully")
	return db, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case config.DriverMySQL:
		return mysql.Open(cfg.GetDSN()), nil
	case config.DriverSQLite:
		// Fail early when the parent directory is missing.
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, fmt.Errorf("database directory: %w", err)
			}
		}
		return sqlite.Open(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// RunMigrations creates or updates the order table
func RunMigrations(db *gorm.DB, log logrus.FieldLogger) error {
	log.Info("Running database migrations...")

	if err := db.AutoMigrate(&model.OrderRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	log.Info("Database migrations completed")
	return nil
}
