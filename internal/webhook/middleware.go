package webhook

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jira_cache/internal/logger"
)

// RequestLog is a middleware that logs every request with its status and
// duration.
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.GetLogger().Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
