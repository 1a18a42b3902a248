package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"checkout/pkg/log"
)

// RateLimit per-client-IP token bucket rate limiting middleware
func RateLimit(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(c *gin.Context) {
		key := c.ClientIP()

		mu.Lock()
		limiter, exists := limiters[key]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[key] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			log.WithFields(map[string]interface{}{
				"ip":     key,
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Warn("Rate limit exceeded")

			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    429,
				"message": "Too many requests",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
