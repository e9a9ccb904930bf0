package httpapi

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// requestLogger logs one structured line per request, replacing the
// teacher's gin.Logger() default with slog so request logs share the same
// sink and format as the rest of the daemon.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// recovery logs a panic with a stack trace and returns 500, in place of the
// teacher's bare gin.Recovery() so a plugin-forwarding panic never crashes
// the management API.
func recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.RecoveryWithWriter(gin.DefaultWriter, func(c *gin.Context, err any) {
		logger.Error("panic recovered", "error", err, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(500, gin.H{"error": apiError{Kind: "fatal", Message: "internal error"}})
	})
}
