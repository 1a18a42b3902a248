package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	appconfig "checkout/internal/config"
)

// CORS cross-origin middleware driven by the security config
func CORS(cfg *appconfig.SecurityConfig) gin.HandlerFunc {
	config := cors.DefaultConfig()

	if len(cfg.CORS.AllowOrigins) > 0 {
		config.AllowOrigins = cfg.CORS.AllowOrigins
	} else {
		config.AllowAllOrigins = true
	}
	if len(cfg.CORS.AllowMethods) > 0 {
		config.AllowMethods = cfg.CORS.AllowMethods
	}
	if len(cfg.CORS.AllowHeaders) > 0 {
		config.AllowHeaders = cfg.CORS.AllowHeaders
	} else {
		config.AllowHeaders = []string{
			"Origin",
			"Content-Length",
			"Content-Type",
			"Authorization",
			"X-Requested-With",
			"Accept",
		}
	}
	config.AllowCredentials = cfg.CORS.AllowCredentials && !config.AllowAllOrigins
	if cfg.CORS.MaxAge > 0 {
		config.MaxAge = time.Duration(cfg.CORS.MaxAge) * time.Second
	}

	return cors.New(config)
}
