package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"trekmate/apps/history-service/dao"
	"trekmate/apps/history-service/model"
	"trekmate/apps/history-service/service"
	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const group = "64b7f0c2a1e4d3b2c1a09f01"

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	log := logger.NewNopLogger()
	svc := service.NewService(dao.NewMemoryActivityDAO(), log)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 3; i++ {
		ev, _ := fanout.NewEvent(fanout.EventNewMessage, group, i, "", nil)
		ev.At = base.Add(time.Duration(i) * time.Minute)
		if _, err := svc.Record(context.Background(), ev); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	r := gin.New()
	NewHTTPHandler(svc, log).RegisterRoutes(r)
	return r
}

func get(t *testing.T, r *gin.Engine, path string) (int, response) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var resp response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w.Code, resp
}

func TestListActivityOverHTTP(t *testing.T) {
	r := newTestEngine(t)

	code, resp := get(t, r, "/groups/"+group+"/activity?page=1&limit=2")
	if code != http.StatusOK || resp.Message != "Activity retrieved successfully" {
		t.Fatalf("list: %d %+v", code, resp)
	}
	var page model.ActivityPage
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 3 || len(page.Activities) != 2 || page.Activities[0].Seq != 3 || page.Activities[1].Seq != 2 {
		t.Errorf("page = %+v", page)
	}

	code, resp = get(t, r, "/groups/"+group+"/activity/stats")
	if code != http.StatusOK {
		t.Fatalf("stats: %d %+v", code, resp)
	}
	var stats []model.GroupEventStats
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(stats) != 1 || stats[0].TotalCount != 3 || stats[0].LastSeq != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestActivityRequestErrors(t *testing.T) {
	r := newTestEngine(t)
	tests := []struct {
		name    string
		path    string
		code    int
		message string
	}{
		{"bad group id", "/groups/nope/activity", http.StatusBadRequest, model.MsgInvalidGroupID},
		{"bad group id on stats", "/groups/nope/activity/stats", http.StatusBadRequest, model.MsgInvalidGroupID},
		{"negative page", "/groups/" + group + "/activity?page=-2", http.StatusBadRequest, model.MsgInvalidPaging},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := get(t, r, tc.path)
			if code != tc.code || resp.Message != tc.message {
				t.Errorf("got %d %q, want %d %q", code, resp.Message, tc.code, tc.message)
			}
		})
	}
}
