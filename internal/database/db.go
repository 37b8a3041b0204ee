package database

import (
	"fmt"
	"time"

	"medledger/internal/config"
	"medledger/internal/logging"
	"medledger/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(cfg config.DBConfig, logger *logging.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:  logging.NewGormLogger(logger, 200*time.Millisecond),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// Migrate creates or updates the ledger schema.
func Migrate(db *gorm.DB) error {
	// Auto-migrate core models
	err := db.AutoMigrate(
		&model.User{},
		&model.Category{},
		&model.SubCategory{},
		&model.Medicine{},
		&model.StockMovement{},
		&model.BillSequence{},
		&model.Bill{},
		&model.BillItem{},
		&model.SaleReturn{},
		&model.ReturnItem{},
		&model.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	return nil
}
