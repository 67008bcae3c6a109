package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowHeaders  = "Authorization, Content-Type, " + requestIDHeader
	corsExposeHeaders = "Retry-After, " + requestIDHeader
	corsAllowMethods  = "GET, POST, PATCH, DELETE, OPTIONS"
)

// CORS lets browser clients call the API. The access cookie is a credential, so
// Allow-Credentials is only sent to origins listed explicitly. With no list every
// origin may call the API with bearer tokens but never with the cookie.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	listed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			listed[origin] = struct{}{}
		}
	}
	openMode := len(listed) == 0

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}

		header := c.Writer.Header()
		header.Add("Vary", "Origin")

		_, allowed := listed[origin]
		switch {
		case allowed:
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
		case openMode:
			header.Set("Access-Control-Allow-Origin", "*")
		default:
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}
		header.Set("Access-Control-Expose-Headers", corsExposeHeaders)

		if c.Request.Method == http.MethodOptions {
			header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			header.Set("Access-Control-Allow-Methods", corsAllowMethods)
			header.Set("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
