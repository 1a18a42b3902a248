package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"checkout/internal/model"
)

// InventoryRepository inventory record repository interface.
// Mutating callers are expected to run inside a transaction and load the
// SKU row with GetBySKUForUpdate first, so all stock arithmetic for one
// SKU is serialized by the row lock.
type InventoryRepository interface {
	// Create creates an inventory record
	Create(ctx context.Context, record *model.InventoryRecord) error

	// GetBySKU gets an inventory record without locking
	GetBySKU(ctx context.Context, sku string) (*model.InventoryRecord, error)

	// GetBySKUForUpdate gets an inventory record under an exclusive row lock
	GetBySKUForUpdate(tx *gorm.DB, sku string) (*model.InventoryRecord, error)

	// Save persists stock counters, normally under the row lock taken above
	Save(tx *gorm.DB, record *model.InventoryRecord) error

	// BulkCredit credits physical stock for several SKUs in one statement
	BulkCredit(tx *gorm.DB, credits map[string]int) error
}

// inventoryRepository inventory repository implementation
type inventoryRepository struct {
	db *gorm.DB
}

// NewInventoryRepository creates an inventory repository
func NewInventoryRepository(db *gorm.DB) InventoryRepository {
	return &inventoryRepository{db: db}
}

// Create creates an inventory record
func (r *inventoryRepository) Create(ctx context.Context, record *model.InventoryRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// GetBySKU gets an inventory record without locking
func (r *inventoryRepository) GetBySKU(ctx context.Context, sku string) (*model.InventoryRecord, error) {
	var record model.InventoryRecord
	err := r.db.WithContext(ctx).
		Where("sku = ?", sku).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetBySKUForUpdate gets an inventory record under SELECT ... FOR UPDATE
func (r *inventoryRepository) GetBySKUForUpdate(tx *gorm.DB, sku string) (*model.InventoryRecord, error) {
	var record model.InventoryRecord
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("sku = ?", sku).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Save persists stock counters
func (r *inventoryRepository) Save(tx *gorm.DB, record *model.InventoryRecord) error {
	return tx.Save(record).Error
}

// BulkCredit returns reserved quantity to physical stock for several
// SKUs in one CASE update, so the expiry job issues O(1) statements
// instead of one per reservation
func (r *inventoryRepository) BulkCredit(tx *gorm.DB, credits map[string]int) error {
	if len(credits) == 0 {
		return nil
	}

	var physicalExpr, reservedExpr strings.Builder
	physicalArgs := make([]interface{}, 0, len(credits)*2)
	reservedArgs := make([]interface{}, 0, len(credits)*2)
	skus := make([]interface{}, 0, len(credits))

	physicalExpr.WriteString("CASE sku")
	reservedExpr.WriteString("CASE sku")
	for sku, qty := range credits {
		physicalExpr.WriteString(" WHEN ? THEN physical_stock + ?")
		physicalArgs = append(physicalArgs, sku, qty)
		reservedExpr.WriteString(" WHEN ? THEN GREATEST(reserved_stock - ?, 0)")
		reservedArgs = append(reservedArgs, sku, qty)
		skus = append(skus, sku)
	}
	physicalExpr.WriteString(" END")
	reservedExpr.WriteString(" END")

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(skus)), ",")
	sql := fmt.Sprintf(
		"UPDATE inventory SET physical_stock = %s, reserved_stock = %s, updated_at = NOW() WHERE sku IN (%s)",
		physicalExpr.String(), reservedExpr.String(), placeholders,
	)

	args := make([]interface{}, 0, len(physicalArgs)+len(reservedArgs)+len(skus))
	args = append(args, physicalArgs...)
	args = append(args, reservedArgs...)
	args = append(args, skus...)

	return tx.Exec(sql, args...).Error
}
