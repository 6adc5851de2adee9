package middleware

import (
	"strconv"
	"time"

	"github.com/ErlanBelekov/prospect-portal/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records latency and counts per route template. Requests that
// match no route share one label so probes cannot grow the series set.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := []string{c.Request.Method, route, strconv.Itoa(c.Writer.Status())}

		metrics.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(labels...).Inc()
	}
}
