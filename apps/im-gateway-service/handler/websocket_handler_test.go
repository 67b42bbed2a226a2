package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/im-gateway-service/dao"
	"trekmate/apps/im-gateway-service/service"
	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
	"trekmate/pkg/middleware"
	"trekmate/pkg/server"
	"trekmate/pkg/userdir"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testUserHeader = "X-Test-User"

func newTestServer(t *testing.T) (*httptest.Server, *fanout.MemoryBroker, *userdir.MemoryDirectory) {
	t.Helper()
	log := logger.NewNopLogger()
	broker := fanout.NewMemoryBroker()
	users := userdir.NewMemoryDirectory()
	svc := service.NewService(broker, users, dao.NewMemoryPresenceDAO(), log)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader(testUserHeader); id != "" {
			c.Set(middleware.ContextUserID, id)
		}
		c.Next()
	})
	server.NewWebSocketServerWrapper(r, kratoslog.DefaultLogger).RegisterHandler("/ws", NewWSHandler(svc, log))
	NewHTTPHandler(svc, log).RegisterRoutes(r)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, broker, users
}

func dial(t *testing.T, ts *httptest.Server, user primitive.ObjectID) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(testUserHeader, user.Hex())
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *fanout.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	ev, err := fanout.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return ev
}

func TestWebSocketForwardsGroupEvents(t *testing.T) {
	ctx := context.Background()
	ts, broker, users := newTestServer(t)
	group, user := primitive.NewObjectID(), primitive.NewObjectID()
	users.Put(userdir.Profile{ID: user, FullName: "Asha"})
	if err := users.AddJoinedGroup(ctx, user, group); err != nil {
		t.Fatalf("AddJoinedGroup() error = %v", err)
	}

	conn := dial(t, ts, user)

	// 应答到达说明会话已建立并完成订阅
	frame, _ := json.Marshal(fanout.ControlFrame{Action: fanout.ActionSubscribe, GroupID: group.Hex()})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if ev := readEvent(t, conn); ev.Event != fanout.EventSubscribed {
		t.Fatalf("first frame = %+v, want subscribed", ev)
	}

	msg, _ := fanout.NewEvent(fanout.EventNewMessage, group.Hex(), 12, user.Hex(), map[string]string{"text": "Welcome!"})
	if err := broker.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Event != fanout.EventNewMessage || ev.Channel != fanout.MessageChannel(group.Hex()) || ev.Seq != 12 {
		t.Errorf("forwarded = %+v", ev)
	}

	resp, err := http.Get(ts.URL + "/presence/" + user.Hex())
	if err != nil {
		t.Fatalf("GET presence error = %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Data struct {
			Online   bool `json:"online"`
			Sessions int  `json:"sessions"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if !body.Data.Online || body.Data.Sessions != 1 {
		t.Errorf("presence = %+v", body.Data)
	}
}

func TestWebSocketRejectsInvalidUser(t *testing.T) {
	ts, _, _ := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("ReadMessage() error = %v, want policy violation close", err)
	}
}
