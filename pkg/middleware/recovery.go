package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"trekmate/pkg/apperr"
	"trekmate/pkg/httpx"
	"trekmate/pkg/logger"
	"trekmate/pkg/metrics"
)

// Recovery 捕获handler panic并返回500信封；http.ErrAbortHandler 照常上抛
func Recovery(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(r)
			}

			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPPanics.WithLabelValues(route).Inc()
			log.Error(c.Request.Context(), "Panic recovered",
				logger.F("panic", fmt.Sprint(r)),
				logger.F("method", c.Request.Method),
				logger.F("route", route),
				logger.F("stack", string(debug.Stack())))

			// 已开始写响应时无法再改状态码
			if c.Writer.Written() {
				c.Abort()
				return
			}
			httpx.WriteError(c, nil, apperr.Internal("internal server error", fmt.Errorf("panic: %v", r)))
		}()

		c.Next()
	}
}
