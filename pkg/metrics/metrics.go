package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MembershipOps 成员变更，按操作和结果计数（ok / 业务错误分类）
	MembershipOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekmate_membership_operations_total",
			Help: "Group membership operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// MembershipRetries 条件更新未命中后的重判次数
	MembershipRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekmate_membership_conditional_misses_total",
			Help: "Conditional membership updates that matched no document",
		},
		[]string{"operation"},
	)

	// SagaCompensations 用户索引同步失败后的补偿
	SagaCompensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekmate_membership_compensations_total",
			Help: "Group document compensations after joined-groups index failures",
		},
		[]string{"operation", "result"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekmate_messages_total",
			Help: "Messages persisted by kind (user, system)",
		},
		[]string{"kind"},
	)

	// FanoutPublishes 实时推送结果
	FanoutPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekmate_fanout_publishes_total",
			Help: "Fan-out publishes by sink and result",
		},
		[]string{"sink", "result"},
	)

	VoteToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekmate_vote_toggles_total",
			Help: "Vote toggles by target kind and outcome",
		},
		[]string{"target", "outcome"},
	)

	ProfileUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekmate_profile_updates_total",
			Help: "Profile updates by outcome",
		},
		[]string{"outcome"},
	)

	GatewaySessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trekmate_gateway_sessions",
			Help: "Currently connected websocket sessions",
		},
	)

	GatewayEventsForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekmate_gateway_events_forwarded_total",
			Help: "Events forwarded to websocket sessions by event name",
		},
		[]string{"event"},
	)

	// ProxyRequests API网关转发结果，code 为状态码类别（2xx、4xx、502等）
	ProxyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekmate_gateway_proxy_requests_total",
			Help: "Requests proxied by the API gateway by service and status class",
		},
		[]string{"service", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trekmate_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// HTTPPanics 被 Recovery 捕获的 panic
	HTTPPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekmate_http_panics_total",
			Help: "Panics recovered in HTTP handlers by route",
		},
		[]string{"route"},
	)

	ActivityRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekmate_activity_records_total",
			Help: "Activity records persisted by event",
		},
		[]string{"event"},
	)
)

// Handler gin形式的 /metrics
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
