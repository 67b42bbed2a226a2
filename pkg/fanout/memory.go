package fanout

import (
	"context"
	"errors"
	"sync"
)

// MemoryBroker 进程内的发布订阅，供本地内存模式与测试使用
type MemoryBroker struct {
	mu        sync.RWMutex
	subs      map[*memorySubscription]struct{}
	published []*Event
	failWith  error
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[*memorySubscription]struct{})}
}

// FailWith 之后的Publish都返回err，nil恢复
func (b *MemoryBroker) FailWith(err error) {
	b.mu.Lock()
	b.failWith = err
	b.mu.Unlock()
}

// Publish 投递给订阅了 ev.Channel 的会话，慢消费者直接丢弃
func (b *MemoryBroker) Publish(ctx context.Context, ev *Event) error {
	b.mu.Lock()
	if b.failWith != nil {
		err := b.failWith
		b.mu.Unlock()
		return err
	}
	b.published = append(b.published, ev)
	targets := make([]*memorySubscription, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.deliver(ev)
	}
	return nil
}

// Published 已发布事件的快照
func (b *MemoryBroker) Published() []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*Event(nil), b.published...)
}

// PublishedNames 已发布的事件名，按顺序
func (b *MemoryBroker) PublishedNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.published))
	for _, ev := range b.published {
		names = append(names, ev.Event)
	}
	return names
}

// NewSubscription 实现 Subscriber
func (b *MemoryBroker) NewSubscription(ctx context.Context) (Subscription, error) {
	s := &memorySubscription{
		broker:   b,
		channels: make(map[string]struct{}),
		events:   make(chan *Event, 64),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

var errSubscriptionClosed = errors.New("subscription closed")

type memorySubscription struct {
	broker   *MemoryBroker
	mu       sync.Mutex
	channels map[string]struct{}
	events   chan *Event
	closed   bool
}

func (s *memorySubscription) deliver(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.channels[ev.Channel]; !ok {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

func (s *memorySubscription) Subscribe(ctx context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSubscriptionClosed
	}
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
	return nil
}

func (s *memorySubscription) Unsubscribe(ctx context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		delete(s.channels, ch)
	}
	return nil
}

func (s *memorySubscription) Events() <-chan *Event {
	return s.events
}

func (s *memorySubscription) Close() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
