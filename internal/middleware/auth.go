package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"checkout/pkg/utils"
)

const (
	// AuthorizationHeader authentication header name
	AuthorizationHeader = "Authorization"
	// BearerPrefix bearer token prefix
	BearerPrefix = "Bearer "
	// UserIDKey context key for the authenticated user ID
	UserIDKey = "user_id"
)

// Auth JWT authentication middleware
func Auth(jwtManager *utils.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeader)
		if authHeader == "" {
			utils.ErrorResponse(c, http.StatusUnauthorized, utils.ErrUnauthorized)
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			utils.ErrorResponse(c, http.StatusUnauthorized, utils.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, BearerPrefix)
		claims, err := jwtManager.ValidateToken(token)
		if err != nil {
			utils.ErrorResponse(c, http.StatusUnauthorized, utils.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// GetUserID reads the authenticated user ID from the context
func GetUserID(c *gin.Context) (uint64, bool) {
	value, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := value.(uint64)
	return userID, ok
}
