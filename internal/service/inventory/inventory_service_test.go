package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"checkout/internal/model"
	"checkout/internal/monitor"
	"checkout/pkg/snowflake"
	"checkout/pkg/utils"
)

// Shared across tests: promauto registers into the default registry and
// a second collector in the same process would collide.
var testMetrics = monitor.NewMetricsCollector()

// fakeInventoryRepo in-memory inventory ledger
type fakeInventoryRepo struct {
	records map[string]*model.InventoryRecord
}

func (f *fakeInventoryRepo) Create(ctx context.Context, record *model.InventoryRecord) error {
	f.records[record.SKU] = record
	return nil
}

func (f *fakeInventoryRepo) GetBySKU(ctx context.Context, sku string) (*model.InventoryRecord, error) {
	record, ok := f.records[sku]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return record, nil
}

func (f *fakeInventoryRepo) GetBySKUForUpdate(tx *gorm.DB, sku string) (*model.InventoryRecord, error) {
	record, ok := f.records[sku]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return record, nil
}

func (f *fakeInventoryRepo) Save(tx *gorm.DB, record *model.InventoryRecord) error {
	f.records[record.SKU] = record
	return nil
}

func (f *fakeInventoryRepo) BulkCredit(tx *gorm.DB, credits map[string]int) error {
	for sku, qty := range credits {
		record, ok := f.records[sku]
		if !ok {
			return gorm.ErrRecordNotFound
		}
		record.PhysicalStock += qty
		record.ReservedStock -= qty
		if record.ReservedStock < 0 {
			record.ReservedStock = 0
		}
	}
	return nil
}

// fakeReservationRepo in-memory reservation store
type fakeReservationRepo struct {
	reservations map[string]*model.Reservation
	nextID       uint64
}

func newFakeReservationRepo() *fakeReservationRepo {
	return &fakeReservationRepo{reservations: make(map[string]*model.Reservation), nextID: 1}
}

func (f *fakeReservationRepo) Create(tx *gorm.DB, reservation *model.Reservation) error {
	reservation.ID = f.nextID
	f.nextID++
	f.reservations[reservation.ReservationNo] = reservation
	return nil
}

func (f *fakeReservationRepo) GetByReservationNo(ctx context.Context, reservationNo string) (*model.Reservation, error) {
	reservation, ok := f.reservations[reservationNo]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return reservation, nil
}

func (f *fakeReservationRepo) GetByOrderAndSKU(ctx context.Context, orderNo, sku string) (*model.Reservation, error) {
	for _, reservation := range f.reservations {
		if reservation.OrderNo == orderNo && reservation.SKU == sku {
			return reservation, nil
		}
	}
	return nil, nil
}

func (f *fakeReservationRepo) GetForUpdate(tx *gorm.DB, reservationNo string) (*model.Reservation, error) {
	reservation, ok := f.reservations[reservationNo]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return reservation, nil
}

func (f *fakeReservationRepo) ListByOrderNo(ctx context.Context, orderNo string) ([]*model.Reservation, error) {
	var result []*model.Reservation
	for _, reservation := range f.reservations {
		if reservation.OrderNo == orderNo {
			result = append(result, reservation)
		}
	}
	return result, nil
}

func (f *fakeReservationRepo) Save(tx *gorm.DB, reservation *model.Reservation) error {
	f.reservations[reservation.ReservationNo] = reservation
	return nil
}

func (f *fakeReservationRepo) ListExpired(tx *gorm.DB, now time.Time, limit int) ([]*model.Reservation, error) {
	var result []*model.Reservation
	for _, reservation := range f.reservations {
		if reservation.Status == model.ReservationStatusActive && reservation.ExpiresAt.Before(now) {
			result = append(result, reservation)
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (f *fakeReservationRepo) BulkExpire(tx *gorm.DB, ids []uint64) (int64, error) {
	var affected int64
	for _, reservation := range f.reservations {
		for _, id := range ids {
			if reservation.ID == id && reservation.Status == model.ReservationStatusActive {
				reservation.Status = model.ReservationStatusExpired
				affected++
			}
		}
	}
	return affected, nil
}

// txDB returns a gorm DB whose transactions always begin and commit,
// so services drive the fake repos through real Transaction calls
func txDB(t *testing.T) *gorm.DB {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 50; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return db
}

func newTestService(t *testing.T) (InventoryService, *fakeInventoryRepo, *fakeReservationRepo) {
	inventoryRepo := &fakeInventoryRepo{records: map[string]*model.InventoryRecord{
		"SKU-001": {ID: 1, SKU: "SKU-001", PhysicalStock: 100, ReservedStock: 0, SafetyStock: 5},
		"SKU-002": {ID: 2, SKU: "SKU-002", PhysicalStock: 10, ReservedStock: 0, SafetyStock: 0},
	}}
	reservationRepo := newFakeReservationRepo()

	idGen, err := snowflake.NewIDGenerator(1)
	require.NoError(t, err)

	svc := NewInventoryService(txDB(t), inventoryRepo, reservationRepo, idGen, testMetrics, 15*time.Minute, 500)
	return svc, inventoryRepo, reservationRepo
}

func TestReserve(t *testing.T) {
	svc, inventoryRepo, _ := newTestService(t)
	ctx := context.Background()

	reservation, err := svc.Reserve(ctx, "ORD001", "SKU-001", 10)
	require.NoError(t, err)
	require.NotNil(t, reservation)

	assert.Equal(t, model.ReservationStatusActive, reservation.Status)
	assert.Equal(t, 10, reservation.Quantity)
	assert.True(t, reservation.ExpiresAt.After(time.Now()))

	record := inventoryRepo.records["SKU-001"]
	assert.Equal(t, 90, record.PhysicalStock)
	assert.Equal(t, 10, record.ReservedStock)
	assert.Equal(t, 85, record.AvailableStock())
}

func TestReserve_InsufficientStock(t *testing.T) {
	svc, inventoryRepo, _ := newTestService(t)
	ctx := context.Background()

	// SKU-002 has 10 physical and no safety margin.
	_, err := svc.Reserve(ctx, "ORD001", "SKU-002", 11)
	assert.ErrorIs(t, err, utils.ErrInsufficientStock)

	record := inventoryRepo.records["SKU-002"]
	assert.Equal(t, 10, record.PhysicalStock)
	assert.Equal(t, 0, record.ReservedStock)
}

func TestReserve_SafetyStockExcluded(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// SKU-001: 100 physical, 5 safety, so at most 95 reservable.
	_, err := svc.Reserve(ctx, "ORD001", "SKU-001", 96)
	assert.ErrorIs(t, err, utils.ErrInsufficientStock)

	_, err = svc.Reserve(ctx, "ORD001", "SKU-001", 95)
	assert.NoError(t, err)
}

func TestReserve_UnknownSKU(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Reserve(context.Background(), "ORD001", "SKU-MISSING", 1)
	assert.ErrorIs(t, err, utils.ErrSKUNotFound)
}

func TestConfirmReservation(t *testing.T) {
	svc, inventoryRepo, _ := newTestService(t)
	ctx := context.Background()

	reservation, err := svc.Reserve(ctx, "ORD001", "SKU-001", 10)
	require.NoError(t, err)

	err = svc.ConfirmReservation(ctx, reservation.ReservationNo)
	require.NoError(t, err)

	assert.Equal(t, model.ReservationStatusConfirmed, reservation.Status)

	// Physical stock was taken at reserve time; confirm only drops the
	// reserved counter.
	record := inventoryRepo.records["SKU-001"]
	assert.Equal(t, 90, record.PhysicalStock)
	assert.Equal(t, 0, record.ReservedStock)
}

func TestConfirmReservation_AlreadyExpired(t *testing.T) {
	svc, _, reservationRepo := newTestService(t)
	ctx := context.Background()

	reservation, err := svc.Reserve(ctx, "ORD001", "SKU-001", 10)
	require.NoError(t, err)

	reservationRepo.reservations[reservation.ReservationNo].Status = model.ReservationStatusExpired

	err = svc.ConfirmReservation(ctx, reservation.ReservationNo)
	assert.Error(t, err)
}

func TestConfirmReservations_BatchAcrossSKUs(t *testing.T) {
	svc, inventoryRepo, _ := newTestService(t)
	ctx := context.Background()

	r1, err := svc.Reserve(ctx, "ORD001", "SKU-001", 10)
	require.NoError(t, err)
	r2, err := svc.Reserve(ctx, "ORD001", "SKU-002", 3)
	require.NoError(t, err)

	err = svc.ConfirmReservations(ctx, []string{r1.ReservationNo, r2.ReservationNo})
	require.NoError(t, err)

	assert.Equal(t, model.ReservationStatusConfirmed, r1.Status)
	assert.Equal(t, model.ReservationStatusConfirmed, r2.Status)
	assert.Equal(t, 0, inventoryRepo.records["SKU-001"].ReservedStock)
	assert.Equal(t, 0, inventoryRepo.records["SKU-002"].ReservedStock)
}

func TestConfirmReservations_OneBadHoldConfirmsNothing(t *testing.T) {
	svc, inventoryRepo, reservationRepo := newTestService(t)
	ctx := context.Background()

	r1, err := svc.Reserve(ctx, "ORD001", "SKU-001", 10)
	require.NoError(t, err)
	r2, err := svc.Reserve(ctx, "ORD001", "SKU-002", 3)
	require.NoError(t, err)

	// The second hold lapsed before the order reached confirmation.
	reservationRepo.reservations[r2.ReservationNo].Status = model.ReservationStatusExpired

	err = svc.ConfirmReservations(ctx, []string{r1.ReservationNo, r2.ReservationNo})
	require.Error(t, err)

	// Every hold is checked before anything is written, so the healthy
	// sibling stays ACTIVE and both counters keep their reserve-time
	// values.
	assert.Equal(t, model.ReservationStatusActive, r1.Status)
	assert.Equal(t, 90, inventoryRepo.records["SKU-001"].PhysicalStock)
	assert.Equal(t, 10, inventoryRepo.records["SKU-001"].ReservedStock)
	assert.Equal(t, 7, inventoryRepo.records["SKU-002"].PhysicalStock)
	assert.Equal(t, 3, inventoryRepo.records["SKU-002"].ReservedStock)
}

func TestCancelReservation(t *testing.T) {
	svc, inventoryRepo, _ := newTestService(t)
	ctx := context.Background()

	reservation, err := svc.Reserve(ctx, "ORD001", "SKU-001", 10)
	require.NoError(t, err)

	err = svc.CancelReservation(ctx, reservation.ReservationNo)
	require.NoError(t, err)

	assert.Equal(t, model.ReservationStatusCancelled, reservation.Status)

	record := inventoryRepo.records["SKU-001"]
	assert.Equal(t, 100, record.PhysicalStock)
	assert.Equal(t, 0, record.ReservedStock)
}

func TestRestoreStock(t *testing.T) {
	svc, inventoryRepo, _ := newTestService(t)
	ctx := context.Background()

	reservation, err := svc.Reserve(ctx, "ORD001", "SKU-001", 10)
	require.NoError(t, err)
	require.NoError(t, svc.ConfirmReservation(ctx, reservation.ReservationNo))

	err = svc.RestoreStock(ctx, "ORD001")
	require.NoError(t, err)

	assert.Equal(t, model.ReservationStatusCancelled, reservation.Status)

	record := inventoryRepo.records["SKU-001"]
	assert.Equal(t, 100, record.PhysicalStock)
	assert.Equal(t, 0, record.ReservedStock)

	// Restoring again finds no CONFIRMED holds and credits nothing.
	err = svc.RestoreStock(ctx, "ORD001")
	require.NoError(t, err)
	assert.Equal(t, 100, record.PhysicalStock)
}

func TestRestoreStock_SkipsUnconfirmed(t *testing.T) {
	svc, inventoryRepo, _ := newTestService(t)
	ctx := context.Background()

	// Still ACTIVE, so restore must not touch it.
	_, err := svc.Reserve(ctx, "ORD001", "SKU-001", 10)
	require.NoError(t, err)

	err = svc.RestoreStock(ctx, "ORD001")
	require.NoError(t, err)

	record := inventoryRepo.records["SKU-001"]
	assert.Equal(t, 90, record.PhysicalStock)
	assert.Equal(t, 10, record.ReservedStock)
}

func TestExpireReservations_AggregatesPerSKU(t *testing.T) {
	svc, inventoryRepo, reservationRepo := newTestService(t)
	ctx := context.Background()

	r1, err := svc.Reserve(ctx, "ORD001", "SKU-001", 3)
	require.NoError(t, err)
	r2, err := svc.Reserve(ctx, "ORD002", "SKU-001", 4)
	require.NoError(t, err)
	r3, err := svc.Reserve(ctx, "ORD003", "SKU-002", 2)
	require.NoError(t, err)

	for _, reservation := range []*model.Reservation{r1, r2, r3} {
		reservationRepo.reservations[reservation.ReservationNo].ExpiresAt = time.Now().Add(-time.Minute)
	}

	expired, err := svc.ExpireReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, expired)

	assert.Equal(t, model.ReservationStatusExpired, r1.Status)
	assert.Equal(t, model.ReservationStatusExpired, r2.Status)
	assert.Equal(t, model.ReservationStatusExpired, r3.Status)

	// Bulk credit must equal the sum of per-reservation credits.
	assert.Equal(t, 100, inventoryRepo.records["SKU-001"].PhysicalStock)
	assert.Equal(t, 0, inventoryRepo.records["SKU-001"].ReservedStock)
	assert.Equal(t, 10, inventoryRepo.records["SKU-002"].PhysicalStock)
	assert.Equal(t, 0, inventoryRepo.records["SKU-002"].ReservedStock)
}

func TestExpireReservations_LeavesFreshHolds(t *testing.T) {
	svc, inventoryRepo, _ := newTestService(t)
	ctx := context.Background()

	reservation, err := svc.Reserve(ctx, "ORD001", "SKU-001", 5)
	require.NoError(t, err)

	expired, err := svc.ExpireReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
	assert.Equal(t, model.ReservationStatusActive, reservation.Status)
	assert.Equal(t, 95, inventoryRepo.records["SKU-001"].PhysicalStock)
}

func TestGetStock_UnknownSKU(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GetStock(context.Background(), "SKU-MISSING")
	assert.ErrorIs(t, err, utils.ErrSKUNotFound)
}

func TestReserve_InvalidQuantity(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Reserve(context.Background(), "ORD001", "SKU-001", 0)
	assert.ErrorIs(t, err, utils.ErrInvalidParam)

	var appErr *utils.AppError
	assert.True(t, errors.As(err, &appErr))
}
