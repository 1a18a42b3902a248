package utils

import (
	"errors"
	"fmt"
)

// ResponseCode business error code
type ResponseCode int

const (
	CodeSuccess       ResponseCode = 0
	CodeInvalidParam  ResponseCode = 1001
	CodeInternalError ResponseCode = 1002
	CodeDatabaseError ResponseCode = 1003
	CodeUnauthorized  ResponseCode = 1004

	CodeInsufficientStock   ResponseCode = 2001
	CodeInsufficientBalance ResponseCode = 2002
	CodeInvalidCoupon       ResponseCode = 2003
	CodeCouponExhausted     ResponseCode = 2004
	CodeOrderNotFound       ResponseCode = 2005
	CodeOrderNotCancellable ResponseCode = 2006
	CodeSKUNotFound         ResponseCode = 2007

	CodeLockTimeout      ResponseCode = 3001
	CodeDuplicateRequest ResponseCode = 3002
	CodeRequestInFlight  ResponseCode = 3003

	CodeSagaExecutionFailure ResponseCode = 4001
	CodeCompensationFailure  ResponseCode = 4002
)

// AppError application error structure
type AppError struct {
	Code    ResponseCode `json:"code"`
	Message string       `json:"message"`
	Err     error        `json:"-"`
}

// Error implement error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code: %d, message: %s, error: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
}

// Unwrap implement errors.Unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError create new application error
func NewError(code ResponseCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// WrapError wrap error with a business code
func WrapError(err error, code ResponseCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Predefined errors
var (
	ErrInvalidParam = NewError(CodeInvalidParam, "invalid parameter")

	ErrInsufficientStock   = NewError(CodeInsufficientStock, "insufficient stock")
	ErrInsufficientBalance = NewError(CodeInsufficientBalance, "insufficient balance")
	ErrInvalidCoupon       = NewError(CodeInvalidCoupon, "coupon not usable")
	ErrCouponExhausted     = NewError(CodeCouponExhausted, "coupon exhausted")
	ErrOrderNotFound       = NewError(CodeOrderNotFound, "order not found")
	ErrOrderNotCancellable = NewError(CodeOrderNotCancellable, "order no longer cancellable")
	ErrSKUNotFound         = NewError(CodeSKUNotFound, "sku not found")

	// Retriable errors, not business failures
	ErrLockTimeout      = NewError(CodeLockTimeout, "lock acquisition timed out")
	ErrDuplicateRequest = NewError(CodeDuplicateRequest, "duplicate request")
	ErrRequestInFlight  = NewError(CodeRequestInFlight, "request still processing, retry later")

	ErrInternalError = NewError(CodeInternalError, "internal server error")
	ErrDatabaseError = NewError(CodeDatabaseError, "database error")
	ErrUnauthorized  = NewError(CodeUnauthorized, "unauthorized")
)

// IsAppError check if it's an application error
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetErrorCode get error code
func GetErrorCode(err error) ResponseCode {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternalError
}

// GetErrorMessage get error message
func GetErrorMessage(err error) string {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}
