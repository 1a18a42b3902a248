package balance

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"checkout/internal/model"
	"checkout/pkg/utils"
)

// fakeBalanceRepo in-memory balance store
type fakeBalanceRepo struct {
	balances map[uint64]*model.UserBalance
	logs     []*model.BalanceLog
}

func newFakeBalanceRepo() *fakeBalanceRepo {
	return &fakeBalanceRepo{balances: make(map[uint64]*model.UserBalance)}
}

func (f *fakeBalanceRepo) GetByUserID(ctx context.Context, userID uint64) (*model.UserBalance, error) {
	balance, ok := f.balances[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return balance, nil
}

func (f *fakeBalanceRepo) GetForUpdate(tx *gorm.DB, userID uint64) (*model.UserBalance, error) {
	balance, ok := f.balances[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return balance, nil
}

func (f *fakeBalanceRepo) Save(tx *gorm.DB, balance *model.UserBalance) error {
	f.balances[balance.UserID] = balance
	return nil
}

func (f *fakeBalanceRepo) CreateLog(tx *gorm.DB, log *model.BalanceLog) error {
	f.logs = append(f.logs, log)
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

func newTestService(t *testing.T) (BalanceService, *fakeBalanceRepo) {
	repo := newFakeBalanceRepo()
	repo.balances[7] = &model.UserBalance{ID: 1, UserID: 7, Balance: 5000}
	return NewBalanceService(txDB(t), repo), repo
}

func TestDeduct(t *testing.T) {
	svc, repo := newTestService(t)

	err := svc.Deduct(context.Background(), 7, "ORD1", 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), repo.balances[7].Balance)

	require.Len(t, repo.logs, 1)
	assert.Equal(t, model.BalanceChangeDeduct, repo.logs[0].ChangeType)
	assert.Equal(t, int64(2000), repo.logs[0].Amount)
	assert.Equal(t, int64(3000), repo.logs[0].After)
}

func TestDeduct_InsufficientBalance(t *testing.T) {
	svc, repo := newTestService(t)

	err := svc.Deduct(context.Background(), 7, "ORD1", 6000)
	assert.ErrorIs(t, err, utils.ErrInsufficientBalance)
	assert.Equal(t, int64(5000), repo.balances[7].Balance)
	assert.Empty(t, repo.logs)
}

func TestDeduct_UnknownUser(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Deduct(context.Background(), 99, "ORD1", 100)
	assert.ErrorIs(t, err, utils.ErrInsufficientBalance)
}

func TestDeduct_InvalidAmount(t *testing.T) {
	svc, _ := newTestService(t)

	assert.ErrorIs(t, svc.Deduct(context.Background(), 7, "ORD1", 0), utils.ErrInvalidParam)
	assert.ErrorIs(t, svc.Deduct(context.Background(), 7, "ORD1", -5), utils.ErrInvalidParam)
}

func TestCredit(t *testing.T) {
	svc, repo := newTestService(t)

	err := svc.Credit(context.Background(), 7, "ORD1", 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(6500), repo.balances[7].Balance)

	require.Len(t, repo.logs, 1)
	assert.Equal(t, model.BalanceChangeCredit, repo.logs[0].ChangeType)
	assert.Equal(t, int64(6500), repo.logs[0].After)
}

func TestCredit_RoundTripRestoresBalance(t *testing.T) {
	svc, repo := newTestService(t)

	require.NoError(t, svc.Deduct(context.Background(), 7, "ORD1", 2000))
	require.NoError(t, svc.Credit(context.Background(), 7, "ORD1", 2000))

	assert.Equal(t, int64(5000), repo.balances[7].Balance)
	assert.Len(t, repo.logs, 2)
}

func TestGetBalance(t *testing.T) {
	svc, _ := newTestService(t)

	got, err := svc.GetBalance(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got)

	// Unknown user reads as zero.
	got, err = svc.GetBalance(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}
