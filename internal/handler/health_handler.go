package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"checkout/internal/database"
	"checkout/internal/redis"
)

// HealthHandler liveness and dependency health checks
type HealthHandler struct{}

// NewHealthHandler creates a health handler
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// Health reports service health including backing stores
func (h *HealthHandler) Health(c *gin.Context) {
	dbHealth := componentHealth(database.Health())
	redisHealth := componentHealth(redis.Health())

	status := "ok"
	httpCode := http.StatusOK
	if !dbHealth["healthy"].(bool) || !redisHealth["healthy"].(bool) {
		status = "error"
		httpCode = http.StatusServiceUnavailable
	}

	c.JSON(httpCode, gin.H{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"services": gin.H{
			"database": dbHealth,
			"redis":    redisHealth,
		},
	})
}

// Ping trivial liveness probe
func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "pong",
		"timestamp": time.Now().Unix(),
	})
}

func componentHealth(err error) map[string]interface{} {
	if err != nil {
		return map[string]interface{}{
			"healthy": false,
			"error":   err.Error(),
		}
	}
	return map[string]interface{}{
		"healthy": true,
		"status":  "connected",
	}
}
