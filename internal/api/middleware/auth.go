package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yezidelongshao/fastGPTProject/internal/api/render"
	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// APIKey extracts the key of a request from X-API-Key or a bearer token
func APIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Auth rejects requests that do not carry apiKey. An empty apiKey disables the check.
func Auth(apiKey string) gin.HandlerFunc {
	want := []byte(apiKey)
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		if subtle.ConstantTimeCompare([]byte(APIKey(c)), want) != 1 {
			render.Error(c, domain.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Next()
	}
}
