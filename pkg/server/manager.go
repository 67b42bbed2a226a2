package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"trekmate/pkg/config"
)

// Server Start 必须在完成绑定后返回，不能阻塞
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type namedServer struct {
	name string
	Server
}

// ServerManager 按注册顺序启动、逆序停止；任一服务器运行中退出会通过 Failed 通知
type ServerManager struct {
	config     *config.Config
	logger     kratoslog.Logger
	httpServer HTTPServer

	mu      sync.Mutex
	servers []namedServer
	started []namedServer

	failOnce sync.Once
	failed   chan error
}

// NewServerManager 创建服务器管理器
func NewServerManager(cfg *config.Config, logger kratoslog.Logger) *ServerManager {
	return &ServerManager{
		config: cfg,
		logger: logger,
		failed: make(chan error, 1),
	}
}

// EnableHTTP 重复调用返回同一实例
func (sm *ServerManager) EnableHTTP() HTTPServer {
	if sm.httpServer == nil {
		sm.httpServer = NewHTTPServerWrapper(sm.config, sm.logger, sm.fail)
		sm.AddServer("http", sm.httpServer)
	}
	return sm.httpServer
}

// RegisterHTTPRoutes 注册HTTP路由
func (sm *ServerManager) RegisterHTTPRoutes(registerFunc func(*gin.Engine)) error {
	if sm.httpServer == nil {
		return errors.New("HTTP server not enabled")
	}
	sm.httpServer.RegisterRoutes(registerFunc)
	return nil
}

// AddServer 添加服务器到管理列表
func (sm *ServerManager) AddServer(name string, server Server) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.servers = append(sm.servers, namedServer{name: name, Server: server})
}

// StartAll 某个服务器启动失败时停掉已启动的并返回错误
func (sm *ServerManager) StartAll(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, s := range sm.servers {
		if err := s.Start(ctx); err != nil {
			sm.logger.Log(kratoslog.LevelError, "msg", "Server start failed", "server", s.name, "error", err)
			sm.stopStarted(ctx)
			return fmt.Errorf("start %s server: %w", s.name, err)
		}
		sm.started = append(sm.started, s)
	}
	sm.logger.Log(kratoslog.LevelInfo, "msg", "Servers started", "count", len(sm.started))
	return nil
}

// StopAll 停止已启动的服务器
func (sm *ServerManager) StopAll(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.stopStarted(ctx)
}

// Failed 只会收到第一个运行期错误
func (sm *ServerManager) Failed() <-chan error {
	return sm.failed
}

func (sm *ServerManager) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(sm.started) - 1; i >= 0; i-- {
		s := sm.started[i]
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s server: %w", s.name, err))
		}
	}
	sm.started = nil
	return errors.Join(errs...)
}

func (sm *ServerManager) fail(err error) {
	sm.failOnce.Do(func() {
		sm.failed <- err
	})
}
