package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/opencurio/curio/backend/internal/content"
	"github.com/opencurio/curio/backend/internal/notify"
	"github.com/opencurio/curio/backend/internal/reputation"
	"github.com/opencurio/curio/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&content.Question{},
		&content.Answer{},
		&content.VoteRecord{},
		&reputation.Entry{},
		&notify.Notification{},
		&users.Account{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
