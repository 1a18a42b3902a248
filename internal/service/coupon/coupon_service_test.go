package coupon

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"checkout/internal/model"
	"checkout/pkg/lock"
	"checkout/pkg/utils"
)

// fakeCouponRepo in-memory coupon store with the request_id unique
// constraint enforced
type fakeCouponRepo struct {
	coupons     map[uint64]*model.Coupon
	userCoupons map[string]*model.UserCoupon
	nextID      uint64
}

func newFakeCouponRepo() *fakeCouponRepo {
	return &fakeCouponRepo{
		coupons:     make(map[uint64]*model.Coupon),
		userCoupons: make(map[string]*model.UserCoupon),
		nextID:      1,
	}
}

func (f *fakeCouponRepo) GetByID(ctx context.Context, couponID uint64) (*model.Coupon, error) {
	coupon, ok := f.coupons[couponID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return coupon, nil
}

func (f *fakeCouponRepo) GetForUpdate(tx *gorm.DB, couponID uint64) (*model.Coupon, error) {
	return f.GetByID(context.Background(), couponID)
}

func (f *fakeCouponRepo) Save(tx *gorm.DB, coupon *model.Coupon) error {
	f.coupons[coupon.ID] = coupon
	return nil
}

func (f *fakeCouponRepo) CreateUserCoupon(tx *gorm.DB, userCoupon *model.UserCoupon) error {
	if _, exists := f.userCoupons[userCoupon.RequestID]; exists {
		return gorm.ErrDuplicatedKey
	}
	userCoupon.ID = f.nextID
	f.nextID++
	f.userCoupons[userCoupon.RequestID] = userCoupon
	return nil
}

func (f *fakeCouponRepo) GetUserCoupon(ctx context.Context, couponID, userID uint64) (*model.UserCoupon, error) {
	for _, uc := range f.userCoupons {
		if uc.CouponID == couponID && uc.UserID == userID {
			return uc, nil
		}
	}
	return nil, nil
}

func (f *fakeCouponRepo) GetUserCouponForUpdate(tx *gorm.DB, couponID, userID uint64) (*model.UserCoupon, error) {
	for _, uc := range f.userCoupons {
		if uc.CouponID == couponID && uc.UserID == userID {
			return uc, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeCouponRepo) GetUserCouponByRequestID(ctx context.Context, requestID string) (*model.UserCoupon, error) {
	uc, ok := f.userCoupons[requestID]
	if !ok {
		return nil, nil
	}
	return uc, nil
}

func (f *fakeCouponRepo) CountUserCoupons(tx *gorm.DB, couponID, userID uint64) (int64, error) {
	var count int64
	for _, uc := range f.userCoupons {
		if uc.CouponID == couponID && uc.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (f *fakeCouponRepo) SaveUserCoupon(tx *gorm.DB, userCoupon *model.UserCoupon) error {
	f.userCoupons[userCoupon.RequestID] = userCoupon
	return nil
}

// fakePublisher records outbox events
type fakePublisher struct {
	events []*model.OutboxEvent
}

func (f *fakePublisher) Publish(tx *gorm.DB, aggregateType, aggregateID, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.events = append(f.events, &model.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       string(data),
	})
	return nil
}

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

func newTestService(t *testing.T) (CouponService, *fakeCouponRepo, *fakePublisher) {
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	locks := lock.NewService(client, "test:lock:")
	repo := newFakeCouponRepo()
	repo.coupons[42] = &model.Coupon{
		ID:             42,
		Code:           "WELCOME10",
		DiscountAmount: 1000,
		TotalQuantity:  100,
		IssuedQuantity: 0,
		PerUserLimit:   1,
		Status:         model.CouponStatusActive,
	}
	publisher := &fakePublisher{}

	svc := NewCouponService(txDB(t), repo, locks, publisher, time.Second, 10*time.Second)
	return svc, repo, publisher
}

func TestIssue(t *testing.T) {
	svc, repo, publisher := newTestService(t)

	uc, err := svc.Issue(context.Background(), "req-1", 42, 7)
	require.NoError(t, err)
	require.NotNil(t, uc)
	assert.Equal(t, uint64(42), uc.CouponID)
	assert.Equal(t, uint64(7), uc.UserID)
	assert.Equal(t, int8(model.UserCouponStatusUnused), uc.Status)

	assert.Equal(t, 1, repo.coupons[42].IssuedQuantity)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, model.EventTypeCouponIssued, publisher.events[0].EventType)
	assert.Equal(t, "user:7", publisher.events[0].AggregateID)
}

func TestIssue_ReplaysExistingIssuance(t *testing.T) {
	svc, repo, publisher := newTestService(t)

	first, err := svc.Issue(context.Background(), "req-1", 42, 7)
	require.NoError(t, err)

	second, err := svc.Issue(context.Background(), "req-1", 42, 7)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Counter and events advance once.
	assert.Equal(t, 1, repo.coupons[42].IssuedQuantity)
	assert.Len(t, publisher.events, 1)
}

func TestIssue_Exhausted(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.coupons[42].IssuedQuantity = 100

	_, err := svc.Issue(context.Background(), "req-1", 42, 7)
	assert.ErrorIs(t, err, utils.ErrCouponExhausted)
}

func TestIssue_PerUserLimit(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Issue(context.Background(), "req-1", 42, 7)
	require.NoError(t, err)

	_, err = svc.Issue(context.Background(), "req-2", 42, 7)
	assert.ErrorIs(t, err, utils.ErrCouponExhausted)
}

func TestIssue_InactiveCoupon(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.coupons[42].Status = model.CouponStatusInactive

	_, err := svc.Issue(context.Background(), "req-1", 42, 7)
	assert.ErrorIs(t, err, utils.ErrInvalidCoupon)
}

func TestIssue_UnknownCoupon(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Issue(context.Background(), "req-1", 99, 7)
	assert.ErrorIs(t, err, utils.ErrInvalidCoupon)
}

func TestUse(t *testing.T) {
	svc, repo, _ := newTestService(t)

	_, err := svc.Issue(context.Background(), "req-1", 42, 7)
	require.NoError(t, err)

	require.NoError(t, svc.Use(context.Background(), 42, 7, "ORD1"))

	uc := repo.userCoupons["req-1"]
	assert.Equal(t, int8(model.UserCouponStatusUsed), uc.Status)
	require.NotNil(t, uc.OrderNo)
	assert.Equal(t, "ORD1", *uc.OrderNo)
	assert.NotNil(t, uc.UsedAt)
}

func TestUse_AlreadyUsed(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Issue(context.Background(), "req-1", 42, 7)
	require.NoError(t, err)
	require.NoError(t, svc.Use(context.Background(), 42, 7, "ORD1"))

	err = svc.Use(context.Background(), 42, 7, "ORD2")
	assert.ErrorIs(t, err, utils.ErrInvalidCoupon)
}

func TestUse_NotHeld(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Use(context.Background(), 42, 7, "ORD1")
	assert.ErrorIs(t, err, utils.ErrInvalidCoupon)
}

func TestRestore(t *testing.T) {
	svc, repo, _ := newTestService(t)

	_, err := svc.Issue(context.Background(), "req-1", 42, 7)
	require.NoError(t, err)
	require.NoError(t, svc.Use(context.Background(), 42, 7, "ORD1"))

	require.NoError(t, svc.Restore(context.Background(), 42, 7, "ORD1"))

	uc := repo.userCoupons["req-1"]
	assert.Equal(t, int8(model.UserCouponStatusUnused), uc.Status)
	assert.Nil(t, uc.OrderNo)
	assert.Nil(t, uc.UsedAt)
}

func TestRestore_UnusedIsNoop(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Issue(context.Background(), "req-1", 42, 7)
	require.NoError(t, err)

	// Compensation replay after a Use that never happened.
	assert.NoError(t, svc.Restore(context.Background(), 42, 7, "ORD1"))
}

func TestRestore_DifferentOrderRejected(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Issue(context.Background(), "req-1", 42, 7)
	require.NoError(t, err)
	require.NoError(t, svc.Use(context.Background(), 42, 7, "ORD1"))

	err = svc.Restore(context.Background(), 42, 7, "ORD2")
	assert.Error(t, err)
}

func TestIssue_LockContention(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	locks := lock.NewService(client, "test:lock:")
	repo := newFakeCouponRepo()
	repo.coupons[42] = &model.Coupon{
		ID: 42, Code: "WELCOME10", TotalQuantity: 100, PerUserLimit: 1,
		Status: model.CouponStatusActive,
	}

	svc := NewCouponService(txDB(t), repo, locks, &fakePublisher{}, 50*time.Millisecond, 10*time.Second)

	// Another holder keeps the coupon lock for the whole wait window.
	require.NoError(t, client.Set(context.Background(),
		fmt.Sprintf("test:lock:coupon:%d", 42), "someone-else", time.Minute).Err())

	_, err := svc.Issue(context.Background(), "req-1", 42, 7)
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
}
