package middleware

import (
	"net/http"
	"strings"

	"rentora/utils"

	"github.com/gin-gonic/gin"
)

// JWTAuthMiddleware authenticates API calls with a Bearer token and places
// the caller's user ID and device ID into the request context. Lease holder
// identity is per tab, not per device, so the holder ID still travels in the
// request body; this middleware only establishes who the tab belongs to.
func JWTAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Recover from unexpected panics.
		defer func() {
			if r := recover(); r != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
					"code":  500,
				})
			}
		}()

		// Retrieve token from header.
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Insufficient authorization",
				"code":  0,
			})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Insufficient authorization",
				"code":  0,
			})
			return
		}

		userID, deviceID, err := utils.ExtractIDsFromToken(tokenString)
		if err != nil || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Insufficient authorization",
				"code":  0,
			})
			return
		}

		c.Set("userID", userID)
		c.Set("deviceID", deviceID)
		c.Next()
	}
}
