package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/erp/woosync/internal/infrastructure/telemetry"
)

// Metrics records request counts and latency per route.
func Metrics(m *telemetry.SyncMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		m.ObserveIngestRequest(c.Request.Method, routePattern(c), StatusGroup(c.Writer.Status()), time.Since(start).Seconds())
	}
}

// routePattern returns the matched route, so path parameters do not explode
// label cardinality.
func routePattern(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// StatusGroup maps a status code to 2xx, 3xx, 4xx or 5xx
func StatusGroup(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
