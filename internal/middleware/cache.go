package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// CacheControl sets the Cache-Control header, e.g. ("private", 300) for
// profile photos. Handlers override it with no-store on error responses.
func CacheControl(scope string, maxAgeSeconds int) gin.HandlerFunc {
	value := fmt.Sprintf("%s, max-age=%d", scope, maxAgeSeconds)
	return func(c *gin.Context) {
		c.Header("Cache-Control", value)
		c.Next()
	}
}

// NoStore marks responses as uncacheable. Student pages change whenever a
// record is created or deleted.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
