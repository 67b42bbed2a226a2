package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"trekmate/pkg/logger"
)

// 处理失败的消息重试次数，超过后记录日志并跳过，避免阻塞整个分区
const (
	maxHandleAttempts = 3
	retryBackoff      = 200 * time.Millisecond
	// consumeBackoff Consume 出错（如broker不可达）后重新加入消费组前的等待
	consumeBackoff = time.Second
)

// ConsumerConfig 消费者组配置
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// Producer 异步生产者
type Producer struct {
	asyncProducer sarama.AsyncProducer
	log           logger.Logger
	wg            sync.WaitGroup
}

// Consumer 消费者组
type Consumer struct {
	group     sarama.ConsumerGroup
	topics    []string
	ready     chan struct{}
	readyOnce sync.Once
	log       logger.Logger
	Handler   ConsumerHandler
}

// ConsumerHandler 业务消息处理，返回nil才提交位点
type ConsumerHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// InitProducer 初始化生产者，按key哈希分区保证同一群组的事件有序
func InitProducer(brokers []string, log logger.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Partitioner = sarama.NewHashPartitioner
	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	p := &Producer{asyncProducer: producer, log: log}
	p.wg.Add(1)
	go p.drainErrors()
	return p, nil
}

func (p *Producer) drainErrors() {
	defer p.wg.Done()
	for perr := range p.asyncProducer.Errors() {
		p.log.Error(context.Background(), "Kafka produce failed",
			logger.F("topic", perr.Msg.Topic),
			logger.F("error", perr.Err))
	}
}

// SendMessage 发送消息
func (p *Producer) SendMessage(ctx context.Context, topic string, key, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	select {
	case p.asyncProducer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 关闭生产者，等待错误通道排空
func (p *Producer) Close() error {
	err := p.asyncProducer.Close()
	p.wg.Wait()
	return err
}

// InitConsumer 初始化消费者
func InitConsumer(cfg ConsumerConfig, handler ConsumerHandler, log logger.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		group:   group,
		topics:  cfg.Topics,
		ready:   make(chan struct{}),
		log:     log,
		Handler: handler,
	}, nil
}

// StartConsuming 启动消费，首次分配分区后返回
func (c *Consumer) StartConsuming(ctx context.Context) error {
	go c.consumeLoop(ctx)

	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// consumeLoop 每次再均衡后Consume返回，需要重新加入；消费组关闭或ctx取消时退出
func (c *Consumer) consumeLoop(ctx context.Context) {
	for {
		err := c.group.Consume(ctx, c.topics, c)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
			return
		}
		if err != nil {
			c.log.Error(ctx, "Kafka consume failed", logger.F("error", err))
			select {
			case <-time.After(consumeBackoff):
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close 关闭消费者组
func (c *Consumer) Close() error {
	return c.group.Close()
}

// Setup sarama.ConsumerGroupHandler
func (c *Consumer) Setup(_ sarama.ConsumerGroupSession) error {
	c.readyOnce.Do(func() { close(c.ready) })
	return nil
}

// Cleanup sarama.ConsumerGroupHandler
func (c *Consumer) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 逐条处理，成功或重试耗尽后提交位点
func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !c.handle(sess.Context(), msg) {
				return nil
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

// handle 返回false表示会话已结束，消息未处理完，不能提交
func (c *Consumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	for attempt := 1; ; attempt++ {
		err := c.Handler.HandleMessage(ctx, msg)
		if err == nil {
			return true
		}
		if attempt >= maxHandleAttempts {
			c.log.Error(ctx, "Dropping Kafka message after retries",
				logger.F("topic", msg.Topic),
				logger.F("partition", msg.Partition),
				logger.F("offset", msg.Offset),
				logger.F("error", err))
			return true
		}
		c.log.Warn(ctx, "Kafka message handling failed, retrying",
			logger.F("topic", msg.Topic),
			logger.F("offset", msg.Offset),
			logger.F("attempt", attempt),
			logger.F("error", err))

		select {
		case <-time.After(time.Duration(attempt) * retryBackoff):
		case <-ctx.Done():
			return false
		}
	}
}
