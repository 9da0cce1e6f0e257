package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/http/dto"
)

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(c.Request.Context(), "panic recovered",
					"panic", r,
					"method", c.Request.Method,
					"route", c.FullPath(),
					"stack", string(debug.Stack()))

				c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
					Error: "internal server error",
				})
			}
		}()
		c.Next()
	}
}
