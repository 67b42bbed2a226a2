package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"
	"github.com/gorilla/websocket"
)

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://trekmate.app/"})
	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "https://trekmate.app", want: true},
		{origin: "HTTPS://TrekMate.app", want: true},
		{origin: "https://evil.example", want: false},
		{origin: "http://trekmate.app", want: false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("origin %q allowed = %v, want %v", tt.origin, got, tt.want)
		}
	}
	if !originChecker(nil)(httptest.NewRequest(http.MethodGet, "/ws", nil)) {
		t.Error("empty allow list should accept everything")
	}
}

func TestStopClosesActiveConnections(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	ws := NewWebSocketServerWrapper(engine, kratoslog.DefaultLogger)
	connected := make(chan struct{})
	ws.RegisterHandler("/ws", WebSocketHandlerFunc(func(ctx context.Context, conn *websocket.Conn, userID string) {
		close(connected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	ts := httptest.NewServer(engine)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	<-connected
	if ws.Active() != 1 {
		t.Fatalf("Active() = %d, want 1", ws.Active())
	}

	if err := ws.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error = %v, want going away", err)
	}
}
