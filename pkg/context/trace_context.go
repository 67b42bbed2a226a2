package context

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	UserIDKey      contextKey = "user_id"
	GroupIDKey     contextKey = "group_id"
	RequestIDKey   contextKey = "request_id"
	ServiceNameKey contextKey = "service"
)

// spanAttr 写入context时同步到当前span的属性名，空表示不同步
var spanAttr = map[contextKey]string{
	UserIDKey:    "user.id",
	GroupIDKey:   "group.id",
	RequestIDKey: "request.id",
}

// LogKeys 日志从context中取值的键，按输出顺序
var LogKeys = []contextKey{RequestIDKey, ServiceNameKey, UserIDKey, GroupIDKey}

func with(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	if attr := spanAttr[key]; attr != "" {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.String(attr, value))
		}
	}
	return context.WithValue(ctx, key, value)
}

// Value 读取字符串值，ctx为nil或未设置时返回空串
func Value(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// WithUserID 十六进制ObjectID
func WithUserID(ctx context.Context, userID string) context.Context {
	return with(ctx, UserIDKey, userID)
}

// WithGroupID 在context中设置GroupID
func WithGroupID(ctx context.Context, groupID string) context.Context {
	return with(ctx, GroupIDKey, groupID)
}

// WithRequestID 为空时生成新ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return with(ctx, RequestIDKey, requestID)
}

// GetRequestID 从context中获取RequestID
func GetRequestID(ctx context.Context) string {
	return Value(ctx, RequestIDKey)
}

// WithServiceName 在context中设置服务名
func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return with(ctx, ServiceNameKey, serviceName)
}

// GetTraceID 只认OpenTelemetry span，未开启追踪时为空
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
