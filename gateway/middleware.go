package gateway

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/firasghr/ChallengeGate/logger"
	"github.com/firasghr/ChallengeGate/metrics"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	loggerKey       = "logger"
	routeKey        = "route"

	// proxyRoute labels requests served by the catch-all proxy.
	proxyRoute = "proxy"
)

// requestID gives every request a fresh id for the logs.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestIDKey, uuid.New().String())
		c.Next()
	}
}

// exposeRequestID echoes the request id as X-Request-ID.  Only the gateway's
// own endpoints carry it; proxied responses keep the upstream's headers.
func exposeRequestID(c *gin.Context) {
	c.Header(requestIDHeader, c.GetString(requestIDKey))
}

// requestLogger stores a request-scoped child logger in the context and logs
// one line per finished request.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLog := log.With(
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
		c.Set(loggerKey, reqLog)

		c.Next()

		reqLog.Info("request completed",
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// metricsMiddleware records request count and latency per matched route.
func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.GetString(routeKey)
		}
		if route == "" {
			route = proxyRoute
		}
		m.RecordHTTP(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// requestLog returns the logger stored by requestLogger.
func requestLog(c *gin.Context, fallback *logger.Logger) *logger.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	return fallback
}
