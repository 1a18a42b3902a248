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

func setupSagaMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
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

func TestSagaRepository_Create(t *testing.T) {
	db, mock := setupSagaMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewSagaRepository(db)
	ctx := context.Background()

	saga := &model.SagaInstance{
		SagaID:        "saga-001",
		OrderNo:       "ORD20260831001",
		UserID:        1,
		Status:        model.SagaStatusPending,
		MaxRetryCount: 3,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `saga_instances`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.Create(ctx, saga); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestSagaRepository_GetBySagaID(t *testing.T) {
	db, mock := setupSagaMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewSagaRepository(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "saga_id", "order_no", "user_id", "status", "completed_steps", "retry_count", "max_retry_count"}).
		AddRow(1, "saga-001", "ORD20260831001", 1, string(model.SagaStatusRunning), "[]", 0, 3)

	mock.ExpectQuery("SELECT \\* FROM `saga_instances` WHERE saga_id = \\? ORDER BY `saga_instances`.`id` LIMIT \\?").
		WithArgs("saga-001", 1).
		WillReturnRows(rows)

	saga, err := repo.GetBySagaID(ctx, "saga-001")
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if saga == nil || saga.SagaID != "saga-001" {
		t.Errorf("Expected saga-001, got %+v", saga)
	}
	if saga.Status != model.SagaStatusRunning {
		t.Errorf("Expected RUNNING, got %s", saga.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestSagaRepository_GetByOrderNo_NotFound(t *testing.T) {
	db, mock := setupSagaMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewSagaRepository(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT \\* FROM `saga_instances` WHERE order_no = \\?").
		WithArgs("ORD-MISSING", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	saga, err := repo.GetByOrderNo(ctx, "ORD-MISSING")
	if err != nil {
		t.Errorf("Expected no error for missing order, got %v", err)
	}
	if saga != nil {
		t.Errorf("Expected nil saga, got %+v", saga)
	}
}

func TestSagaRepository_ListRecoverable(t *testing.T) {
	db, mock := setupSagaMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewSagaRepository(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "saga_id", "status", "retry_count", "max_retry_count"}).
		AddRow(1, "saga-001", string(model.SagaStatusFailed), 1, 3).
		AddRow(2, "saga-002", string(model.SagaStatusFailed), 0, 3)

	mock.ExpectQuery("SELECT \\* FROM `saga_instances` WHERE status = \\? AND retry_count < max_retry_count AND updated_at < \\?").
		WithArgs(string(model.SagaStatusFailed), sqlmock.AnyArg(), 100).
		WillReturnRows(rows)

	sagas, err := repo.ListRecoverable(ctx, 10*time.Minute, 100)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if len(sagas) != 2 {
		t.Errorf("Expected 2 recoverable sagas, got %d", len(sagas))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestSagaRepository_PurgeTerminal(t *testing.T) {
	db, mock := setupSagaMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewSagaRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `saga_instances` WHERE updated_at < \\?").
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectCommit()

	deleted, err := repo.PurgeTerminal(ctx, time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if deleted != 7 {
		t.Errorf("Expected 7 rows deleted, got %d", deleted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}
