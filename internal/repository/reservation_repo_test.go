package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"checkout/internal/model"
)

func setupReservationMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open gorm DB: %v", err)
	}

	return gormDB, mock
}

func TestReservationRepository_ListExpired(t *testing.T) {
	db, mock := setupReservationMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewReservationRepository(db)

	rows := sqlmock.NewRows([]string{"id", "reservation_no", "order_no", "sku", "quantity", "status"}).
		AddRow(1, "RSV001", "ORD001", "SKU-001", 2, string(model.ReservationStatusActive)).
		AddRow(2, "RSV002", "ORD002", "SKU-001", 3, string(model.ReservationStatusActive)).
		AddRow(3, "RSV003", "ORD003", "SKU-002", 1, string(model.ReservationStatusActive))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `reservations` WHERE status = \\? AND expires_at < \\? ORDER BY expires_at ASC LIMIT \\? FOR UPDATE").
		WithArgs(string(model.ReservationStatusActive), sqlmock.AnyArg(), 500).
		WillReturnRows(rows)
	mock.ExpectCommit()

	err := db.Transaction(func(tx *gorm.DB) error {
		reservations, err := repo.ListExpired(tx, time.Now(), 500)
		if err != nil {
			return err
		}
		if len(reservations) != 3 {
			t.Errorf("Expected 3 expired reservations, got %d", len(reservations))
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestReservationRepository_BulkExpire(t *testing.T) {
	db, mock := setupReservationMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewReservationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `reservations` SET .* WHERE id IN \\(\\?,\\?,\\?\\) AND status = \\?").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	var affected int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		affected, err = repo.BulkExpire(tx, []uint64{1, 2, 3})
		return err
	})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if affected != 3 {
		t.Errorf("Expected 3 rows expired, got %d", affected)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestReservationRepository_BulkExpire_Empty(t *testing.T) {
	db, mock := setupReservationMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewReservationRepository(db)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := db.Transaction(func(tx *gorm.DB) error {
		affected, err := repo.BulkExpire(tx, nil)
		if affected != 0 {
			t.Errorf("Expected 0 rows for empty batch, got %d", affected)
		}
		return err
	})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestReservationRepository_GetByOrderAndSKU_NotFound(t *testing.T) {
	db, mock := setupReservationMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewReservationRepository(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT \\* FROM `reservations` WHERE order_no = \\? AND sku = \\?").
		WithArgs("ORD-MISSING", "SKU-001", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	reservation, err := repo.GetByOrderAndSKU(ctx, "ORD-MISSING", "SKU-001")
	if err != nil {
		t.Errorf("Expected no error for missing reservation, got %v", err)
	}
	if reservation != nil {
		t.Errorf("Expected nil reservation, got %+v", reservation)
	}
}
