package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records latency per route. Successful non-GET calls made by an
// authenticated operator are also counted as admin actions.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		c.Next()

		code := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(code)

		metrics.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()

		if method == http.MethodGet || code >= http.StatusBadRequest {
			return
		}
		if op := c.GetString(OperatorKey); op != "" {
			metrics.AdminActionsTotal.WithLabelValues(path, op).Inc()
		}
	}
}
