package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKey returns a gin middleware that enforces API key authentication on
// every request in its group.
//
// Behaviour:
//   - If mode != "apikey" or key == "", all requests are allowed (pass-through).
//   - Otherwise the middleware reads header from the request and compares it
//     to key in constant time.
//   - A missing, empty, or incorrect key aborts with 401.
func APIKey(mode, header, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Non-apikey modes or unconfigured key → allow everything.
		if mode != "apikey" || key == "" {
			c.Next()
			return
		}

		got := c.GetHeader(header)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}

		c.Next()
	}
}
