package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/civicfix/civicfix-api/internal/service"
)

// Metrics records one HTTP observation per completed request. The route
// template is preferred over the raw path so report IDs do not explode
// label cardinality. Scrapes of /metrics itself are not observed.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	if metricsSvc == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
