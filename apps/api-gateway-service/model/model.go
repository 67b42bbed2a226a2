package model

// RoutePrefix 动态路由前缀，请求形如 /api/v1/{service-name}/{path}
const RoutePrefix = "/api/v1"

// 错误消息
const (
	MsgInvalidRoute        = "Invalid URL format. Expected: /api/v1/{service-name}/{path}"
	MsgUnknownService      = "Unknown service"
	MsgUpstreamUnavailable = "Upstream service unavailable"
)

// Route 一个下游服务的转发目标
type Route struct {
	Service string `json:"service"`
	Target  string `json:"target"`
}
