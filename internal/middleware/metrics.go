package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"checkout/internal/monitor"
)

// Metrics HTTP request metrics middleware. Records against the route
// template rather than the raw path to keep label cardinality bounded.
func Metrics(mc *monitor.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		mc.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
