package chatsession

import (
	"context"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
)

const controlWriteWait = 10 * time.Second

// WSStream 网关WebSocket连接
type WSStream struct {
	conn      *websocket.Conn
	events    chan *fanout.Event
	log       logger.Logger
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// DialWebSocket 返回连接网关的 Dialer，凭证放在 Authorization 头
func DialWebSocket(gatewayURL, token string, log logger.Logger) Dialer {
	return func(ctx context.Context) (Stream, error) {
		header := http.Header{}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, gatewayURL, header)
		if err != nil {
			return nil, err
		}
		st := &WSStream{
			conn:   conn,
			events: make(chan *fanout.Event, 64),
			log:    log,
		}
		go st.readLoop()
		return st, nil
	}
}

// readLoop 连接关闭时关闭事件通道
func (st *WSStream) readLoop() {
	defer close(st.events)
	for {
		_, data, err := st.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				st.log.Warn(context.Background(), "Gateway connection closed", logger.F("error", err.Error()))
			}
			return
		}
		ev, err := fanout.Decode(data)
		if err != nil {
			st.log.Warn(context.Background(), "Undecodable gateway frame", logger.F("error", err.Error()))
			continue
		}
		st.events <- ev
	}
}

func (st *WSStream) Events() <-chan *fanout.Event {
	return st.events
}

// Control 发送订阅控制帧
func (st *WSStream) Control(ctx context.Context, frame fanout.ControlFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(controlWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	_ = st.conn.SetWriteDeadline(deadline)
	return st.conn.WriteMessage(websocket.TextMessage, payload)
}

func (st *WSStream) Close() error {
	var err error
	st.closeOnce.Do(func() {
		st.writeMu.Lock()
		_ = st.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		st.writeMu.Unlock()
		err = st.conn.Close()
	})
	return err
}
