package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"trekmate/pkg/config"
	"trekmate/pkg/metrics"
)

const defaultHTTPTimeout = 30 * time.Second

// NewGinEngine 健康检查和指标端点不经过业务中间件
func NewGinEngine(serviceName string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	started := time.Now()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": serviceName,
			"uptime":  int64(time.Since(started).Seconds()),
		})
	})
	r.GET("/metrics", metrics.Handler())

	return r
}

// HTTPServer 对外暴露的HTTP服务
type HTTPServer interface {
	Server
	GetEngine() *gin.Engine
	RegisterRoutes(registerFunc func(*gin.Engine))
	Addr() string
}

// HTTPServerWrapper Start先完成监听再后台Serve，端口占用会直接返回错误
type HTTPServerWrapper struct {
	engine   *gin.Engine
	server   *http.Server
	listener net.Listener
	logger   kratoslog.Logger
	failed   func(error)
}

// NewHTTPServerWrapper failed 在Serve异常退出时回调，可为nil
func NewHTTPServerWrapper(c *config.Config, logger kratoslog.Logger, failed func(error)) *HTTPServerWrapper {
	engine := NewGinEngine(c.App.Name)

	timeout := c.Server.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPServerWrapper{
		engine: engine,
		server: &http.Server{
			Addr:              c.Server.Addr,
			Handler:           engine,
			ReadHeaderTimeout: timeout,
			ReadTimeout:       timeout,
			// 推送走长连接，不设写超时
			IdleTimeout: 2 * timeout,
		},
		logger: logger,
		failed: failed,
	}
}

// GetEngine 获取Gin引擎
func (w *HTTPServerWrapper) GetEngine() *gin.Engine {
	return w.engine
}

// RegisterRoutes 注册路由
func (w *HTTPServerWrapper) RegisterRoutes(registerFunc func(*gin.Engine)) {
	registerFunc(w.engine)
}

// Addr 启动后返回实际监听地址，":0" 时可取到分配的端口
func (w *HTTPServerWrapper) Addr() string {
	if w.listener != nil {
		return w.listener.Addr().String()
	}
	return w.server.Addr
}

// Start 不阻塞
func (w *HTTPServerWrapper) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return err
	}
	w.listener = ln
	w.logger.Log(kratoslog.LevelInfo, "msg", "HTTP server listening", "addr", ln.Addr().String())

	go func() {
		if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Log(kratoslog.LevelError, "msg", "HTTP server exited", "error", err)
			if w.failed != nil {
				w.failed(err)
			}
		}
	}()
	return nil
}

// Stop 等待进行中的请求结束，超出ctx期限则强制关闭
func (w *HTTPServerWrapper) Stop(ctx context.Context) error {
	if w.listener == nil {
		return nil
	}
	w.logger.Log(kratoslog.LevelInfo, "msg", "HTTP server stopping")
	if err := w.server.Shutdown(ctx); err != nil {
		_ = w.server.Close()
		return err
	}
	return nil
}
