package middleware

import (
	"github.com/ErlanBelekov/prospect-portal/internal/reqctx"
	"github.com/gin-gonic/gin"
)

const maxRequestIDLen = 128

// RequestID injects a request ID into the context and response header.
// An incoming X-Request-ID is kept unless it is empty or oversized.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" || len(id) > maxRequestIDLen {
			id = reqctx.NewRequestID()
		}

		ctx := reqctx.WithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}
