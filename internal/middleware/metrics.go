// Package middleware provides the gateway's Gin middleware: request ids, HTTP metrics,
// API security headers, admin authentication and throttling, and the tool gate.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/telemetry"
)

// noRoutePath labels requests that matched no route so raw URLs never become labels.
const noRoutePath = "<no-route>"

// MetricsMiddleware records telemetry.HTTPRequestsTotal and telemetry.HTTPRequestDuration
// for every request. The path label is the Gin route template (e.g. /v1/tools/:name).
//
// Register it after gin.Recovery() so statuses written by the recovery handler are
// counted, and before the tool gate so denials are counted with their status.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoutePath
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
