package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fairway-meetups/backend/internal/auth"
	"github.com/fairway-meetups/backend/pkg/response"
)

const (
	// ContextUserID is the key for the verified caller id in gin context.
	ContextUserID = "user_id"
	// ContextDisplayName is the key for the display name carried by the token.
	ContextDisplayName = "display_name"
)

// JWT validates the bearer token and stores the caller identity in context.
// Only the Authorization header is read; the websocket route checks its own
// query token.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Unauthorized(c, "missing or invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.CallerID())
		c.Set(ContextDisplayName, claims.DisplayName)
		c.Next()
	}
}

// CallerID returns the authenticated user id, or "" outside the JWT middleware.
func CallerID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// CallerName returns the display name from the caller's token, if any.
func CallerName(c *gin.Context) string {
	return c.GetString(ContextDisplayName)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
