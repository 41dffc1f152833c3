package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/invoice-matcher/pkg/utils"
)

// UserIDHeader carries the acting user. Authentication happens upstream.
const UserIDHeader = "X-User-ID"

const userIDKey = "user_id"

// requireUser rejects mutating requests without a well-formed acting user
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserIDHeader)
		if err := utils.ValidateUserID(userID); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   "missing or invalid " + UserIDHeader + " header",
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+UserIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
