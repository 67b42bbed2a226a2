package fanout

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"trekmate/pkg/kafka"
	"trekmate/pkg/logger"
	"trekmate/pkg/metrics"
	"trekmate/pkg/redis"
)

// Publisher 推送一个事件
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// RedisPublisher 通过Redis Pub/Sub推送到事件频道
type RedisPublisher struct {
	client *redis.RedisClient
}

func NewRedisPublisher(client *redis.RedisClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish 发布到 ev.Channel
func (p *RedisPublisher) Publish(ctx context.Context, ev *Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, ev.Channel, payload)
}

// KafkaPublisher 事件归档到Kafka，按群ID分区保证群内有序
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaPublisher(producer *kafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish 写入topic
func (p *KafkaPublisher) Publish(ctx context.Context, ev *Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	return p.producer.SendMessage(ctx, p.topic, []byte(ev.GroupID), payload)
}

// BreakerSettings 熔断配置
type BreakerSettings struct {
	Name             string
	Timeout          time.Duration
	FailureThreshold uint32
}

// BreakerPublisher 熔断包装：下游持续失败时快速失败，避免拖慢请求
type BreakerPublisher struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerPublisher(next Publisher, s BreakerSettings, log logger.Logger) *BreakerPublisher {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	settings := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn(context.Background(), "Fan-out circuit breaker state changed",
				logger.F("breaker", name),
				logger.F("from", from.String()),
				logger.F("to", to.String()))
		},
	}
	return &BreakerPublisher{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Publish 经熔断器推送
func (p *BreakerPublisher) Publish(ctx context.Context, ev *Event) error {
	_, err := p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.next.Publish(ctx, ev)
	})
	return err
}

// State 熔断状态
func (p *BreakerPublisher) State() gobreaker.State {
	return p.cb.State()
}

type namedPublisher struct {
	name string
	pub  Publisher
}

// Notifier 尽力而为的推送：失败只记录日志和指标，不影响调用方
type Notifier struct {
	sinks []namedPublisher
	log   logger.Logger
}

// NewNotifier 创建推送器
func NewNotifier(log logger.Logger) *Notifier {
	return &Notifier{log: log}
}

// AddSink 增加一个推送目标
func (n *Notifier) AddSink(name string, pub Publisher) *Notifier {
	n.sinks = append(n.sinks, namedPublisher{name: name, pub: pub})
	return n
}

// Notify 推送到所有目标，返回成功的目标数
func (n *Notifier) Notify(ctx context.Context, ev *Event) int {
	if n == nil || ev == nil {
		return 0
	}
	delivered := 0
	for _, sink := range n.sinks {
		if err := sink.pub.Publish(ctx, ev); err != nil {
			result := "error"
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				result = "breaker_open"
			}
			metrics.FanoutPublishes.WithLabelValues(sink.name, result).Inc()
			n.log.Error(ctx, "Fan-out publish failed",
				logger.F("sink", sink.name),
				logger.F("event", ev.Event),
				logger.F("channel", ev.Channel),
				logger.F("seq", ev.Seq),
				logger.F("error", err))
			continue
		}
		metrics.FanoutPublishes.WithLabelValues(sink.name, "ok").Inc()
		delivered++
	}
	return delivered
}

// NotifyData 构造事件并推送，编码失败同样只记录
func (n *Notifier) NotifyData(ctx context.Context, event, groupID string, seq int64, actorID string, data interface{}) {
	ev, err := NewEvent(event, groupID, seq, actorID, data)
	if err != nil {
		n.log.Error(ctx, "Fan-out event encode failed", logger.F("event", event), logger.F("error", err))
		return
	}
	n.Notify(ctx, ev)
}
