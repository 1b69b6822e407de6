package handler

import (
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

const callerKey = "caller"

// GetCaller returns the address verified by CallerAuth.
func GetCaller(c *gin.Context) (common.Address, bool) {
	v, exists := c.Get(callerKey)
	if !exists {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}

// RequestLogger logs one line per request through slog.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			slog.Error("http request failed", append(attrs, "error", c.Errors.String())...)
			return
		}
		slog.Info("http request", attrs...)
	}
}
