package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LoggingMiddleware logs request and response details once the handler chain
// has finished.
func LoggingMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":       c.Request.Method,
			"uri":          c.Request.RequestURI,
			"status":       c.Writer.Status(),
			"duration":     time.Since(start),
			"responseSize": c.Writer.Size(),
		})
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Warn("HTTP request failed")
			return
		}
		entry.Info("HTTP request handled")
	}
}
