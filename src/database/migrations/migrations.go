package migrations

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DataMigration tracks executed data migrations.
// Table name is fixed to avoid collisions with other models.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

func ensureDataMigrationsTable(db *gorm.DB) error {
	return db.AutoMigrate(&DataMigration{})
}

// RunOnce runs fn only if migrationID was not executed before.
// It records the migration as executed only after fn succeeds.
func RunOnce(db *gorm.DB, migrationID string, fn func(*gorm.DB) error) error {
	if db == nil {
		return nil
	}
	if migrationID == "" {
		return fmt.Errorf("migration id is empty")
	}
	if fn == nil {
		return fmt.Errorf("migration %q has nil fn", migrationID)
	}

	if err := ensureDataMigrationsTable(db); err != nil {
		return fmt.Errorf("ensure data_migrations table: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var m DataMigration
		err := tx.First(&m, "id = ?", migrationID).Error
		if err == nil {
			// already applied
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check migration %q: %w", migrationID, err)
		}

		if err := fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", migrationID, err)
		}

		rec := DataMigration{
			ID:        migrationID,
			AppliedAt: time.Now().UTC(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", migrationID, err)
		}

		return nil
	})
}

// Run executes all data migrations that go beyond schema auto-migrations.
// Append new migrations at the bottom with a stable unique id.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	if err := RunOnce(db, "00001_trades_open_symbol_partial_index", createOpenTradesIndex); err != nil {
		return err
	}

	if err := RunOnce(db, "00002_backfill_connection_categories", backfillConnectionCategories); err != nil {
		return err
	}

	if err := RunOnce(db, "00003_clamp_connection_sync_interval", clampConnectionSyncInterval); err != nil {
		return err
	}

	return nil
}

// createOpenTradesIndex backs the (user, exchange, symbol) lookups of quick
// sync, which only ever look at open trades.
func createOpenTradesIndex(db *gorm.DB) error {
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_trades_open_symbol ON trades (user_id, exchange, symbol, entry_time) WHERE status = 'open'`).Error
}

// backfillConnectionCategories gives connections created without categories
// the linear default so the stored row matches what the sync core reads.
func backfillConnectionCategories(db *gorm.DB) error {
	return db.Exec(`UPDATE exchange_connections SET categories = '["linear"]' WHERE categories IS NULL OR categories = '' OR categories = 'null' OR categories = '[]'`).Error
}

func clampConnectionSyncInterval(db *gorm.DB) error {
	if err := db.Exec(`UPDATE exchange_connections SET sync_interval_hours = 1 WHERE sync_interval_hours < 1`).Error; err != nil {
		return err
	}
	return db.Exec(`UPDATE exchange_connections SET sync_interval_hours = 24 WHERE sync_interval_hours > 24`).Error
}
