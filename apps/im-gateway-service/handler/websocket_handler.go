package handler

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/im-gateway-service/model"
	"trekmate/apps/im-gateway-service/service"
	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
)

// WSHandler WebSocket协议处理器，实现 server.WebSocketHandler
type WSHandler struct {
	svc *service.Service
	log logger.Logger
}

// NewWSHandler 创建WebSocket处理器
func NewWSHandler(svc *service.Service, log logger.Logger) *WSHandler {
	return &WSHandler{svc: svc, log: log}
}

// HandleConnection 连接已通过认证；读协程处理控制帧与pong，当前协程负责全部写入
func (ws *WSHandler) HandleConnection(ctx context.Context, conn *websocket.Conn, userIDHex string) {
	userID, err := primitive.ObjectIDFromHex(userIDHex)
	if err != nil {
		ws.log.Warn(ctx, "Rejecting websocket without valid user", logger.F("userID", userIDHex))
		closeWith(conn, websocket.ClosePolicyViolation, "Not authorized, invalid user")
		return
	}

	sess, err := ws.svc.Open(ctx, userID)
	if err != nil {
		ws.log.Error(ctx, "Failed to open gateway session",
			logger.F("userID", userIDHex),
			logger.F("error", err.Error()))
		closeWith(conn, websocket.CloseInternalServerErr, "Failed to open session")
		return
	}
	defer sess.Close(ctx)

	go ws.readPump(ctx, conn, sess)
	ws.writePump(ctx, conn, sess)
}

// readPump 读取控制帧；任何读错误都结束会话
func (ws *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, sess *service.Session) {
	defer sess.Close(ctx)

	conn.SetReadLimit(model.MaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(model.PongWait))
	conn.SetPongHandler(func(string) error {
		if err := sess.Heartbeat(ctx); err != nil {
			ws.log.Warn(ctx, "Failed to renew presence",
				logger.F("sessionID", sess.ID),
				logger.F("error", err.Error()))
		}
		return conn.SetReadDeadline(time.Now().Add(model.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Warn(ctx, "WebSocket read failed",
					logger.F("sessionID", sess.ID),
					logger.F("error", err.Error()))
			}
			return
		}

		var frame fanout.ControlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			ws.log.Warn(ctx, "Invalid control frame",
				logger.F("sessionID", sess.ID),
				logger.F("error", err.Error()))
			continue
		}
		sess.Handle(ctx, frame)
	}
}

// writePump 转发出站事件并定时发送ping
func (ws *WSHandler) writePump(ctx context.Context, conn *websocket.Conn, sess *service.Session) {
	ticker := time.NewTicker(model.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sess.Outbound():
			if !ok {
				closeWith(conn, websocket.CloseNormalClosure, "")
				return
			}
			payload, err := ev.Encode()
			if err != nil {
				ws.log.Error(ctx, "Failed to encode event",
					logger.F("event", ev.Event),
					logger.F("error", err.Error()))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(model.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				ws.log.Warn(ctx, "WebSocket write failed",
					logger.F("sessionID", sess.ID),
					logger.F("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(model.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(model.WriteWait))
}
