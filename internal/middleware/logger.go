package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"wbgate-go/internal/logging"
)

// RequestLogger logs HTTP requests.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		log.WithFields(log.Fields{
			"request_id": c.GetString("request_id"),
			"status":     c.Writer.Status(),
			"latency_ms": logging.DurationMS(latency),
			"method":     method,
			"path":       path,
			"client_ip":  c.ClientIP(),
		}).Info("http_request")
	}
}
