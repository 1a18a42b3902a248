package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"checkout/internal/middleware"
	"checkout/internal/model"
	"checkout/internal/service/saga"
	"checkout/pkg/lock"
	"checkout/pkg/utils"
)

// CheckoutAPIRequest API request structure for checkout
type CheckoutAPIRequest struct {
	IdempotencyKey string                 `json:"idempotency_key" binding:"required"`
	Items          []CheckoutAPIOrderItem `json:"items" binding:"required,min=1,dive"`
	CouponID       *uint64                `json:"coupon_id"`
	DiscountAmount int64                  `json:"discount_amount" binding:"min=0"`
}

// CheckoutAPIOrderItem one line of a checkout request
type CheckoutAPIOrderItem struct {
	SKU      string `json:"sku" binding:"required"`
	Price    int64  `json:"price" binding:"min=0"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

// CheckoutService the saga surface the HTTP layer depends on
type CheckoutService interface {
	Checkout(ctx context.Context, req *saga.CheckoutRequest) (*saga.CheckoutResult, error)
	GetSagaProgress(ctx context.Context, orderNo string) (*saga.SagaProgress, error)
	GetStuckSagas(ctx context.Context, limit int) ([]*model.SagaInstance, error)
}

// CheckoutHandler checkout handler
type CheckoutHandler struct {
	sagaService CheckoutService
}

// NewCheckoutHandler creates a checkout handler
func NewCheckoutHandler(sagaService CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{
		sagaService: sagaService,
	}
}

// Checkout executes one checkout attempt
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	var apiReq CheckoutAPIRequest
	if err := c.ShouldBindJSON(&apiReq); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.WrapError(err, utils.CodeInvalidParam, "invalid parameters: "+err.Error()))
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, utils.ErrUnauthorized)
		return
	}

	items := make([]saga.CheckoutItem, 0, len(apiReq.Items))
	for _, item := range apiReq.Items {
		items = append(items, saga.CheckoutItem{
			SKU:      item.SKU,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}

	result, err := h.sagaService.Checkout(c.Request.Context(), &saga.CheckoutRequest{
		IdempotencyKey: apiReq.IdempotencyKey,
		UserID:         userID,
		Items:          items,
		CouponID:       apiReq.CouponID,
		DiscountAmount: apiReq.DiscountAmount,
	})
	if err != nil {
		h.writeCheckoutError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// writeCheckoutError maps checkout failures to HTTP responses. A
// compensated saga is the caller's problem (bad coupon, no stock, no
// balance) and retriable; a stuck one is ours.
func (h *CheckoutHandler) writeCheckoutError(c *gin.Context, err error) {
	if errors.Is(err, utils.ErrRequestInFlight) {
		utils.ErrorResponse(c, http.StatusConflict, err)
		return
	}

	// Another carrier of the same idempotency key holds the checkout
	// lock; the client backs off and retries.
	if errors.Is(err, lock.ErrLockTimeout) {
		utils.ErrorResponse(c, http.StatusTooManyRequests, utils.ErrLockTimeout)
		return
	}

	var execErr *saga.ExecutionError
	if errors.As(err, &execErr) {
		if execErr.Compensated {
			utils.SagaErrorResponse(c, http.StatusUnprocessableEntity, execErr.SagaID, execErr.Cause)
		} else {
			utils.SagaErrorResponse(c, http.StatusInternalServerError, execErr.SagaID,
				utils.NewError(utils.CodeCompensationFailure, "checkout could not be rolled back, support has been notified"))
		}
		return
	}

	if _, ok := utils.IsAppError(err); ok {
		utils.ErrorResponse(c, http.StatusUnprocessableEntity, err)
		return
	}
	utils.ErrorResponse(c, http.StatusInternalServerError, utils.ErrInternalError)
}

// GetProgress returns the saga state for an order
func (h *CheckoutHandler) GetProgress(c *gin.Context) {
	orderNo := c.Param("order_no")
	if orderNo == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.ErrInvalidParam)
		return
	}

	progress, err := h.sagaService.GetSagaProgress(c.Request.Context(), orderNo)
	if err != nil {
		if errors.Is(err, utils.ErrOrderNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, err)
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, utils.ErrInternalError)
		return
	}

	utils.SuccessResponse(c, progress)
}

// GetStuckSagas lists sagas awaiting manual intervention
func (h *CheckoutHandler) GetStuckSagas(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			utils.ErrorResponse(c, http.StatusBadRequest, utils.ErrInvalidParam)
			return
		}
		limit = parsed
	}

	sagas, err := h.sagaService.GetStuckSagas(c.Request.Context(), limit)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, utils.ErrInternalError)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"count": len(sagas),
		"sagas": sagas,
	})
}
