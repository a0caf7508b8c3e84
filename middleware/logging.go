package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nazim05-hub/MessengerX/utils"
)

// Logger logs one structured line per request
func Logger(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		// Live connections are logged by the hub, and the path may carry a token
		if c.FullPath() == "/ws/:token" {
			path = "/ws/:token"
		}

		args := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			args = append(args, "errors", c.Errors.String())
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.Error("Request failed", args...)
		case c.Writer.Status() >= 400:
			logger.Warn("Request rejected", args...)
		default:
			logger.Info("Request handled", args...)
		}
	}
}
