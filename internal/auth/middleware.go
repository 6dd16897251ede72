package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
)

// BearerMiddleware authenticates REST calls via the Authorization header.
func BearerMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if !authenticate(c, secret, token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

// QueryTokenMiddleware authenticates websocket upgrades, which cannot carry
// headers from a browser. A bad token is reported by the socket handler with
// close code 4001, so the request is not aborted here.
func QueryTokenMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := c.Query("token"); token != "" {
			authenticate(c, secret, token)
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, secret []byte, token string) bool {
	claims, err := ValidateToken(secret, token)
	if err != nil {
		return false
	}
	c.Set(ContextUserID, claims.UserID())
	c.Set(ContextUsername, claims.Username)
	return true
}
