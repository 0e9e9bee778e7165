package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/omniquery/fanout-api/internal/domain"
)

// Auth checks for a valid static Bearer token in the Authorization
// header. An empty key list disables the check entirely.
func Auth(staticKeys []string) gin.HandlerFunc {
	staticMap := make(map[string]bool)
	for _, k := range staticKeys {
		staticMap[k] = true
	}

	return func(c *gin.Context) {
		if len(staticMap) == 0 {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "Missing Authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c, "Invalid Authorization header format")
			return
		}

		if !staticMap[parts[1]] {
			abortUnauthorized(c, "Invalid API key")
			return
		}

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, detail string) {
	p := domain.NewProblem(401, "Unauthorized", detail)
	c.AbortWithStatusJSON(p.Status, p)
}
