package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"checkout/internal/middleware"
	"checkout/internal/model"
	"checkout/internal/service/saga"
	"checkout/pkg/lock"
	"checkout/pkg/utils"
)

// MockCheckoutService mock checkout service
type MockCheckoutService struct {
	mock.Mock
}

func (m *MockCheckoutService) Checkout(ctx context.Context, req *saga.CheckoutRequest) (*saga.CheckoutResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*saga.CheckoutResult), args.Error(1)
}

func (m *MockCheckoutService) GetSagaProgress(ctx context.Context, orderNo string) (*saga.SagaProgress, error) {
	args := m.Called(ctx, orderNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*saga.SagaProgress), args.Error(1)
}

func (m *MockCheckoutService) GetStuckSagas(ctx context.Context, limit int) ([]*model.SagaInstance, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.SagaInstance), args.Error(1)
}

func setupCheckoutRouter(mockService *MockCheckoutService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewCheckoutHandler(mockService)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, uint64(7))
		c.Next()
	})
	router.POST("/checkout", handler.Checkout)
	router.GET("/sagas/progress/:order_no", handler.GetProgress)
	router.GET("/sagas/stuck", handler.GetStuckSagas)
	return router
}

func checkoutBody() []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"idempotency_key": "idem-1",
		"items": []map[string]interface{}{
			{"sku": "SKU-001", "price": 1000, "quantity": 2},
		},
	})
	return body
}

func TestCheckoutHandler_Checkout(t *testing.T) {
	t.Run("successful checkout", func(t *testing.T) {
		mockService := new(MockCheckoutService)
		router := setupCheckoutRouter(mockService)

		mockService.On("Checkout", mock.Anything, mock.MatchedBy(func(req *saga.CheckoutRequest) bool {
			return req.IdempotencyKey == "idem-1" && req.UserID == 7 && len(req.Items) == 1
		})).Return(&saga.CheckoutResult{
			SagaID:        "SAGA1",
			OrderNo:       "ORD1",
			PaymentAmount: 2000,
		}, nil)

		req, _ := http.NewRequest("POST", "/checkout", bytes.NewReader(checkoutBody()))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "ORD1", data["order_no"])
		assert.Equal(t, float64(2000), data["payment_amount"])

		mockService.AssertExpectations(t)
	})

	t.Run("missing idempotency key", func(t *testing.T) {
		mockService := new(MockCheckoutService)
		router := setupCheckoutRouter(mockService)

		body, _ := json.Marshal(map[string]interface{}{
			"items": []map[string]interface{}{
				{"sku": "SKU-001", "price": 1000, "quantity": 2},
			},
		})
		req, _ := http.NewRequest("POST", "/checkout", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockService.AssertNotCalled(t, "Checkout", mock.Anything, mock.Anything)
	})

	t.Run("compensated failure returns saga id", func(t *testing.T) {
		mockService := new(MockCheckoutService)
		router := setupCheckoutRouter(mockService)

		mockService.On("Checkout", mock.Anything, mock.Anything).Return(nil, &saga.ExecutionError{
			SagaID:      "SAGA1",
			FailedStep:  model.StepBalanceDeduct,
			Compensated: true,
			Cause:       utils.ErrInsufficientBalance,
		})

		req, _ := http.NewRequest("POST", "/checkout", bytes.NewReader(checkoutBody()))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var response map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "SAGA1", response["saga_id"])
		assert.Equal(t, float64(utils.CodeInsufficientBalance), response["code"])
	})

	t.Run("stuck saga returns 500 without step detail", func(t *testing.T) {
		mockService := new(MockCheckoutService)
		router := setupCheckoutRouter(mockService)

		mockService.On("Checkout", mock.Anything, mock.Anything).Return(nil, &saga.ExecutionError{
			SagaID:      "SAGA1",
			FailedStep:  model.StepInventoryConfirm,
			Compensated: false,
			Cause:       assert.AnError,
		})

		req, _ := http.NewRequest("POST", "/checkout", bytes.NewReader(checkoutBody()))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var response map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "SAGA1", response["saga_id"])
		assert.NotContains(t, w.Body.String(), "INVENTORY_CONFIRM")
	})

	t.Run("in-flight duplicate returns conflict", func(t *testing.T) {
		mockService := new(MockCheckoutService)
		router := setupCheckoutRouter(mockService)

		mockService.On("Checkout", mock.Anything, mock.Anything).Return(nil, utils.ErrRequestInFlight)

		req, _ := http.NewRequest("POST", "/checkout", bytes.NewReader(checkoutBody()))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("lock contention returns 429", func(t *testing.T) {
		mockService := new(MockCheckoutService)
		router := setupCheckoutRouter(mockService)

		mockService.On("Checkout", mock.Anything, mock.Anything).Return(nil, lock.ErrLockTimeout)

		req, _ := http.NewRequest("POST", "/checkout", bytes.NewReader(checkoutBody()))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)

		var response map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, float64(utils.CodeLockTimeout), response["code"])
	})
}

func TestCheckoutHandler_GetProgress(t *testing.T) {
	t.Run("returns saga progress", func(t *testing.T) {
		mockService := new(MockCheckoutService)
		router := setupCheckoutRouter(mockService)

		mockService.On("GetSagaProgress", mock.Anything, "ORD1").Return(&saga.SagaProgress{
			SagaID:  "SAGA1",
			OrderNo: "ORD1",
			Status:  model.SagaStatusCompleted,
		}, nil)

		req, _ := http.NewRequest("GET", "/sagas/progress/ORD1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "COMPLETED", data["status"])
	})

	t.Run("unknown order returns 404", func(t *testing.T) {
		mockService := new(MockCheckoutService)
		router := setupCheckoutRouter(mockService)

		mockService.On("GetSagaProgress", mock.Anything, "ORD-MISSING").Return(nil, utils.ErrOrderNotFound)

		req, _ := http.NewRequest("GET", "/sagas/progress/ORD-MISSING", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCheckoutHandler_GetStuckSagas(t *testing.T) {
	t.Run("lists stuck sagas", func(t *testing.T) {
		mockService := new(MockCheckoutService)
		router := setupCheckoutRouter(mockService)

		mockService.On("GetStuckSagas", mock.Anything, 50).Return([]*model.SagaInstance{
			{SagaID: "SAGA1", Status: model.SagaStatusStuck},
		}, nil)

		req, _ := http.NewRequest("GET", "/sagas/stuck", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		data := response["data"].(map[string]interface{})
		assert.Equal(t, float64(1), data["count"])
	})

	t.Run("invalid limit rejected", func(t *testing.T) {
		mockService := new(MockCheckoutService)
		router := setupCheckoutRouter(mockService)

		req, _ := http.NewRequest("GET", "/sagas/stuck?limit=abc", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockService.AssertNotCalled(t, "GetStuckSagas", mock.Anything, mock.Anything)
	})
}
