package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	kratoslog "github.com/go-kratos/kratos/v2/log"
)

// 钩子优先级，数字越小越先启动、越晚停止
const (
	PriorityInfrastructure = 0   // 数据库、Redis、Kafka、追踪
	PriorityServers        = 100 // HTTP、WebSocket
	PriorityBackground     = 200 // 消费者、订阅
)

const defaultStopTimeout = 30 * time.Second

// Hook 生命周期钩子，OnStart 收到的ctx在整个运行期有效，Stop后取消
type Hook struct {
	Name     string
	Priority int
	OnStart  func(context.Context) error
	OnStop   func(context.Context) error
}

// LifecycleManager 按优先级启动钩子，停止时逆序
type LifecycleManager struct {
	logger      kratoslog.Logger
	stopTimeout time.Duration

	mu      sync.Mutex
	hooks   []Hook
	started int

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// NewLifecycleManager 创建生命周期管理器
func NewLifecycleManager(logger kratoslog.Logger) *LifecycleManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleManager{
		logger:      logger,
		stopTimeout: defaultStopTimeout,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// AddHook 同优先级按添加顺序
func (lm *LifecycleManager) AddHook(hook Hook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = append(lm.hooks, hook)
	sort.SliceStable(lm.hooks, func(i, j int) bool {
		return lm.hooks[i].Priority < lm.hooks[j].Priority
	})
}

// Start 任一钩子失败时逆序停止已启动的钩子并返回错误
func (lm *LifecycleManager) Start() error {
	lm.mu.Lock()
	hooks := append([]Hook(nil), lm.hooks...)
	lm.mu.Unlock()

	for i, hook := range hooks {
		if hook.OnStart != nil {
			if err := hook.OnStart(lm.ctx); err != nil {
				lm.logger.Log(kratoslog.LevelError, "msg", "Hook start failed", "name", hook.Name, "error", err)
				lm.stopHooks(hooks[:i])
				lm.mu.Lock()
				lm.started = 0
				lm.mu.Unlock()
				return fmt.Errorf("start %s: %w", hook.Name, err)
			}
		}
		lm.mu.Lock()
		lm.started = i + 1
		lm.mu.Unlock()
	}
	lm.logger.Log(kratoslog.LevelInfo, "msg", "Lifecycle started", "hooks", len(hooks))
	return nil
}

// Stop 只执行一次，重复调用返回第一次的结果
func (lm *LifecycleManager) Stop() error {
	lm.stopOnce.Do(func() {
		lm.mu.Lock()
		hooks := append([]Hook(nil), lm.hooks[:lm.started]...)
		lm.mu.Unlock()

		// 先取消运行期ctx，后台循环不再重试，再逆序停止钩子
		lm.cancel()
		lm.stopErr = lm.stopHooks(hooks)
		close(lm.done)
		lm.logger.Log(kratoslog.LevelInfo, "msg", "Lifecycle stopped")
	})
	return lm.stopErr
}

// stopHooks 单个钩子失败不影响后续钩子
func (lm *LifecycleManager) stopHooks(hooks []Hook) error {
	ctx, cancel := context.WithTimeout(context.Background(), lm.stopTimeout)
	defer cancel()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		if hook.OnStop == nil {
			continue
		}
		if err := hook.OnStop(ctx); err != nil {
			lm.logger.Log(kratoslog.LevelError, "msg", "Hook stop failed", "name", hook.Name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", hook.Name, err))
			continue
		}
		lm.logger.Log(kratoslog.LevelDebug, "msg", "Hook stopped", "name", hook.Name)
	}
	return errors.Join(errs...)
}

// Wait 阻塞到收到终止信号或Stop被调用
func (lm *LifecycleManager) Wait() {
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	select {
	case <-sigCtx.Done():
		lm.logger.Log(kratoslog.LevelInfo, "msg", "Received shutdown signal")
		_ = lm.Stop()
	case <-lm.done:
	}
}

// Context 运行期上下文，Stop后取消
func (lm *LifecycleManager) Context() context.Context {
	return lm.ctx
}

// Done Stop完成后关闭
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.done
}
