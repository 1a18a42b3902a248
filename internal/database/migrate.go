package database

import (
	"fmt"

	"gorm.io/gorm"

	"checkout/internal/model"
	"checkout/pkg/log"
)

// AutoMigrate auto migrate database table schema
func AutoMigrate(db *gorm.DB) error {
	log.Info("Starting database migration...")

	models := []interface{}{
		&model.SagaInstance{},
		&model.IdempotencyKey{},
		&model.InventoryRecord{},
		&model.Reservation{},
		&model.OutboxEvent{},
		&model.Order{},
		&model.OrderItem{},
		&model.Coupon{},
		&model.UserCoupon{},
		&model.UserBalance{},
		&model.BalanceLog{},
	}

	for _, m := range models {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", m, err)
		}
	}

	log.Info("Database migration completed successfully")
	return nil
}
