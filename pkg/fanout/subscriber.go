package fanout

import (
	"context"
	"sync"

	goredis "github.com/go-redis/redis/v8"

	"trekmate/pkg/logger"
	"trekmate/pkg/redis"
)

// Subscription 一个会话的频道订阅，频道集合可动态增减
type Subscription interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Events() <-chan *Event
	Close() error
}

// Subscriber 创建订阅
type Subscriber interface {
	NewSubscription(ctx context.Context) (Subscription, error)
}

// RedisSubscriber 基于Redis Pub/Sub
type RedisSubscriber struct {
	client *redis.RedisClient
	log    logger.Logger
}

func NewRedisSubscriber(client *redis.RedisClient, log logger.Logger) *RedisSubscriber {
	return &RedisSubscriber{client: client, log: log}
}

// NewSubscription 建立空订阅，随后按需Subscribe
func (s *RedisSubscriber) NewSubscription(ctx context.Context) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx)
	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan *Event, 64),
		done:   make(chan struct{}),
		log:    s.log,
	}
	go sub.pump(pubsub.Channel())
	return sub, nil
}

type redisSubscription struct {
	pubsub *goredis.PubSub
	events chan *Event
	done   chan struct{}
	log    logger.Logger
	once   sync.Once
}

// pump 会话关闭后不再阻塞在已满的 events 上
func (s *redisSubscription) pump(msgs <-chan *goredis.Message) {
	defer close(s.events)
	for msg := range msgs {
		ev, err := Decode([]byte(msg.Payload))
		if err != nil {
			s.log.Warn(context.Background(), "Dropping undecodable fan-out payload",
				logger.F("channel", msg.Channel),
				logger.F("error", err))
			continue
		}
		if ev.Channel == "" {
			ev.Channel = msg.Channel
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return s.pubsub.Subscribe(ctx, channels...)
}

func (s *redisSubscription) Unsubscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return s.pubsub.Unsubscribe(ctx, channels...)
}

func (s *redisSubscription) Events() <-chan *Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.pubsub != nil {
			err = s.pubsub.Close()
		}
	})
	return err
}
