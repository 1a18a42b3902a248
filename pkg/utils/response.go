package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Response standard response structure
type Response struct {
	Code      ResponseCode `json:"code"`
	Message   string       `json:"message"`
	SagaID    string       `json:"saga_id,omitempty"`
	Data      interface{}  `json:"data,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// SuccessResponse returns success response
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:      CodeSuccess,
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// ErrorResponse returns error response with HTTP status
func ErrorResponse(c *gin.Context, httpCode int, err error) {
	c.JSON(httpCode, Response{
		Code:      GetErrorCode(err),
		Message:   GetErrorMessage(err),
		Timestamp: time.Now().Unix(),
	})
}

// SagaErrorResponse returns the single structured checkout failure: the
// caller gets an error code, a message, and the saga ID, never the
// internal step taxonomy.
func SagaErrorResponse(c *gin.Context, httpCode int, sagaID string, err error) {
	c.JSON(httpCode, Response{
		Code:      GetErrorCode(err),
		Message:   GetErrorMessage(err),
		SagaID:    sagaID,
		Timestamp: time.Now().Unix(),
	})
}
