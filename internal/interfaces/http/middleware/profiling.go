package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/erp/woosync/internal/infrastructure/telemetry"
)

// Profiling labels CPU samples taken while serving a request with the
// matched route pattern and method. Unmatched paths are not labeled.
func Profiling() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			c.Next()
			return
		}
		telemetry.WithProfilingLabels(c.Request.Context(), map[string]string{
			telemetry.ProfilingLabelRoute:  route,
			telemetry.ProfilingLabelMethod: c.Request.Method,
		}, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}
