package model

import "time"

// CouponIssueMessage coupon issuance request arriving via the broker,
// keyed by user ID for partition affinity
type CouponIssueMessage struct {
	RequestID string `json:"request_id"`
	CouponID  uint64 `json:"coupon_id"`
	UserID    uint64 `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
}

// OrderPaidPayload ORDER_PAID outbox event payload
type OrderPaidPayload struct {
	OrderNo        string      `json:"order_no"`
	UserID         uint64      `json:"user_id"`
	Items          []OrderItem `json:"items"`
	TotalAmount    int64       `json:"total_amount"`
	DiscountAmount int64       `json:"discount_amount"`
	PaidAt         time.Time   `json:"paid_at"`
}

// CouponIssuedPayload COUPON_ISSUED outbox event payload
type CouponIssuedPayload struct {
	RequestID string `json:"request_id"`
	UserID    uint64 `json:"user_id"`
	CouponID  uint64 `json:"coupon_id"`
}

// CouponIssuanceFailedPayload COUPON_ISSUANCE_FAILED outbox event payload
type CouponIssuanceFailedPayload struct {
	RequestID string `json:"request_id"`
	UserID    uint64 `json:"user_id"`
	CouponID  uint64 `json:"coupon_id"`
	ErrorCode string `json:"error_code"`
}
