package db

import (
	"sipengine/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	// The unique index on execution_attempts(subscription_id, billing_period) comes from the
	// model tags; the scheduler's at-most-once guarantee depends on it existing.
	if err := db.Gorm.AutoMigrate(
		&models.Wallet{},
		&models.WalletEntry{},
		&models.SPV{},
		&models.Deal{},
		&models.Bundle{},
		&models.BundleDeal{},
		&models.Subscription{},
		&models.ExecutionAttempt{},
		&models.Investment{},
		&models.SystemSetting{},
	); err != nil {
		return err
	}
	if !db.Gorm.Migrator().HasIndex(&models.ExecutionAttempt{}, "ux_attempt_subscription_period") {
		return db.Gorm.Migrator().CreateIndex(&models.ExecutionAttempt{}, "ux_attempt_subscription_period")
	}
	return nil
}
