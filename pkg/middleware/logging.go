package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"trekmate/pkg/logger"
	"trekmate/pkg/metrics"
)

// quietPaths 探针和抓取不打访问日志
var quietPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// LoggingMiddleware 访问日志与延迟直方图
type LoggingMiddleware struct {
	log logger.Logger
}

// NewLoggingMiddleware 需挂在OTel中间件之后，日志才能带上request_id和trace_id
func NewLoggingMiddleware(log logger.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{log: log}
}

// GinLogging 4xx记为warn，5xx记为error
func (lm *LoggingMiddleware) GinLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(latency.Seconds())

		if _, quiet := quietPaths[c.Request.URL.Path]; quiet {
			return
		}
		fields := []logger.Field{
			logger.F("method", c.Request.Method),
			logger.F("path", c.Request.URL.Path),
			logger.F("status", status),
			logger.F("latency", latency.String()),
			logger.F("client_ip", c.ClientIP()),
		}
		if userID := CurrentUserID(c); userID != "" {
			fields = append(fields, logger.F("user_id", userID))
		}

		ctx := c.Request.Context()
		switch {
		case status >= 500:
			lm.log.Error(ctx, "HTTP request", fields...)
		case status >= 400:
			lm.log.Warn(ctx, "HTTP request", fields...)
		default:
			lm.log.Info(ctx, "HTTP request", fields...)
		}
	}
}
