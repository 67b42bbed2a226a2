package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"trekmate/pkg/logger"
)

type flakyHandler struct {
	failures int
	calls    int
}

func (h *flakyHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	h.calls++
	if h.calls <= h.failures {
		return errors.New("postgres unavailable")
	}
	return nil
}

func TestHandleRetries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantCalls int
	}{
		{name: "first attempt", failures: 0, wantCalls: 1},
		{name: "recovers on retry", failures: 1, wantCalls: 2},
		{name: "gives up", failures: 10, wantCalls: maxHandleAttempts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &flakyHandler{failures: tt.failures}
			c := &Consumer{log: logger.NewNopLogger(), Handler: h}
			if !c.handle(context.Background(), &sarama.ConsumerMessage{Topic: "group-events"}) {
				t.Fatal("handle() = false, want commit")
			}
			if h.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", h.calls, tt.wantCalls)
			}
		})
	}
}

func TestHandleStopsWhenSessionEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &flakyHandler{failures: 10}
	c := &Consumer{log: logger.NewNopLogger(), Handler: h}
	if c.handle(ctx, &sarama.ConsumerMessage{Topic: "group-events"}) {
		t.Error("handle() should not commit after the session ended")
	}
	if h.calls != 1 {
		t.Errorf("calls = %d, want 1", h.calls)
	}
}

// fakeGroup Consume 阻塞到ctx取消或Close；Close之后立即返回 ErrClosedConsumerGroup
type fakeGroup struct {
	mu     sync.Mutex
	calls  int
	closed chan struct{}
	once   sync.Once
}

func newFakeGroup() *fakeGroup {
	return &fakeGroup{closed: make(chan struct{})}
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	select {
	case <-g.closed:
		return sarama.ErrClosedConsumerGroup
	case <-ctx.Done():
		return nil
	}
}

func (g *fakeGroup) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGroup) Errors() <-chan error { return nil }

func (g *fakeGroup) Close() error {
	g.once.Do(func() { close(g.closed) })
	return nil
}

func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

func TestConsumeLoopExitsAfterClose(t *testing.T) {
	group := newFakeGroup()
	c := &Consumer{group: group, topics: []string{"group-events"}, ready: make(chan struct{}), log: logger.NewNopLogger()}

	done := make(chan struct{})
	go func() {
		c.consumeLoop(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for group.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consume loop still running after Close")
	}
	time.Sleep(100 * time.Millisecond)
	if calls := group.Calls(); calls != 1 {
		t.Errorf("Consume called %d times, want 1", calls)
	}
}

func TestConsumeLoopExitsOnCancel(t *testing.T) {
	group := newFakeGroup()
	c := &Consumer{group: group, log: logger.NewNopLogger()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.consumeLoop(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consume loop still running after cancel")
	}
	if calls := group.Calls(); calls > 1 {
		t.Errorf("Consume called %d times, want at most 1", calls)
	}
}
