package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	tracecontext "trekmate/pkg/context"
)

// OTelMiddleware OpenTelemetry中间件配置
type OTelMiddleware struct {
	serviceName string
}

// NewOTelMiddleware 创建OpenTelemetry中间件
func NewOTelMiddleware(serviceName string) *OTelMiddleware {
	return &OTelMiddleware{serviceName: serviceName}
}

// GinMiddleware otelgin之后补充业务追踪信息，探针请求不建span
func (m *OTelMiddleware) GinMiddleware() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		otelgin.Middleware(m.serviceName, otelgin.WithFilter(func(r *http.Request) bool {
			_, quiet := quietPaths[r.URL.Path]
			return !quiet
		})),
		func(c *gin.Context) {
			c.Request = c.Request.WithContext(m.enhanceContext(c.Request.Context(), c))
			c.Next()
		},
	}
}

// enhanceContext 写入request id、服务名、客户端信息
func (m *OTelMiddleware) enhanceContext(ctx context.Context, c *gin.Context) context.Context {
	requestID := c.GetHeader("X-Request-ID")
	ctx = tracecontext.WithRequestID(ctx, requestID)
	c.Header("X-Request-ID", tracecontext.GetRequestID(ctx))

	ctx = tracecontext.WithServiceName(ctx, m.serviceName)

	if groupID := c.Param("groupId"); groupID != "" {
		ctx = tracecontext.WithGroupID(ctx, groupID)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("http.route", c.FullPath()),
			attribute.String("http.user_agent", c.GetHeader("User-Agent")),
			attribute.String("client.ip", c.ClientIP()),
		)
	}
	return ctx
}
