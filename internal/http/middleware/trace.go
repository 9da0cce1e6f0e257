package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/vitormendes140597/data-engineer-challenge-2024/common/logger"
)

// TraceHeader echoes the request's trace id in header so callers can find the
// batch in the trace backend.
func TraceHeader(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := logger.TraceID(c.Request.Context()); id != "" {
			c.Header(header, id)
		}
		c.Next()
	}
}
