package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"
	"github.com/gorilla/websocket"

	"trekmate/pkg/middleware"
)

// WebSocketHandler 连接已通过认证，返回即关闭连接
type WebSocketHandler interface {
	HandleConnection(ctx context.Context, conn *websocket.Conn, userID string)
}

// WebSocketHandlerFunc 函数适配器
type WebSocketHandlerFunc func(ctx context.Context, conn *websocket.Conn, userID string)

func (f WebSocketHandlerFunc) HandleConnection(ctx context.Context, conn *websocket.Conn, userID string) {
	f(ctx, conn, userID)
}

// WebSocketServerWrapper 在Gin引擎上挂载WebSocket端点，并跟踪活跃连接
//
// http.Server.Shutdown 不会关闭已升级的连接，Stop 负责向它们发送 going away
type WebSocketServerWrapper struct {
	engine   *gin.Engine
	upgrader websocket.Upgrader
	logger   kratoslog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewWebSocketServerWrapper allowedOrigins 为空时接受任意Origin
func NewWebSocketServerWrapper(engine *gin.Engine, logger kratoslog.Logger, allowedOrigins ...string) *WebSocketServerWrapper {
	return &WebSocketServerWrapper{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// originChecker 非浏览器客户端不带Origin，直接放行
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// RegisterHandler 路由需位于认证中间件之后
func (ws *WebSocketServerWrapper) RegisterHandler(path string, handler WebSocketHandler) {
	ws.engine.GET(path, func(c *gin.Context) {
		userID := middleware.CurrentUserID(c)
		conn, err := ws.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade 已写回错误响应
			ws.logger.Log(kratoslog.LevelWarn, "msg", "WebSocket upgrade failed", "error", err)
			return
		}
		ws.track(conn)
		defer ws.untrack(conn)

		handler.HandleConnection(c.Request.Context(), conn, userID)
	})
}

// Active 当前连接数
func (ws *WebSocketServerWrapper) Active() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.conns)
}

// Start 端点随HTTP服务器一起监听，这里无事可做
func (ws *WebSocketServerWrapper) Start(context.Context) error {
	return nil
}

// Stop 通知所有客户端服务端下线并关闭连接
func (ws *WebSocketServerWrapper) Stop(ctx context.Context) error {
	ws.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(ws.conns))
	for conn := range ws.conns {
		conns = append(conns, conn)
	}
	ws.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
	}
	if len(conns) > 0 {
		ws.logger.Log(kratoslog.LevelInfo, "msg", "WebSocket connections closed", "count", len(conns))
	}
	return nil
}

func (ws *WebSocketServerWrapper) track(conn *websocket.Conn) {
	ws.mu.Lock()
	ws.conns[conn] = struct{}{}
	ws.mu.Unlock()
}

func (ws *WebSocketServerWrapper) untrack(conn *websocket.Conn) {
	ws.mu.Lock()
	delete(ws.conns, conn)
	ws.mu.Unlock()
	conn.Close()
}
