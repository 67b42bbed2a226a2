package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/user-service/dao"
	"trekmate/apps/user-service/service"
	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
	"trekmate/pkg/middleware"
	"trekmate/pkg/userdir"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testUserHeader = "X-Test-User"

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestEngine() (*gin.Engine, *userdir.MemoryDirectory, *fanout.MemoryBroker) {
	log := logger.NewNopLogger()
	users := userdir.NewMemoryDirectory()
	broker := fanout.NewMemoryBroker()
	svc := service.NewService(dao.NewMemoryProfileDAO(users), users, nil, fanout.NewNotifier(log).AddSink("memory", broker), log)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader(testUserHeader); id != "" {
			c.Set(middleware.ContextUserID, id)
		}
		c.Next()
	})
	NewHTTPHandler(svc, log).RegisterRoutes(r)
	return r, users, broker
}

func do(t *testing.T, r *gin.Engine, method, path, body string, user primitive.ObjectID) (int, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if !user.IsZero() {
		req.Header.Set(testUserHeader, user.Hex())
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w.Code, resp
}

func TestProfileOverHTTP(t *testing.T) {
	r, users, broker := newTestEngine()
	id := primitive.NewObjectID()
	users.Put(userdir.Profile{ID: id, FullName: "Tenzing", Username: "tenzing"})

	code, resp := do(t, r, http.MethodPatch, "/users/profile", `{"fullName":"Tenzing Norgay"}`, id)
	if code != http.StatusOK || resp.Message != "Profile updated successfully" {
		t.Fatalf("PATCH: %d %+v", code, resp)
	}
	if names := broker.PublishedNames(); len(names) != 1 || names[0] != fanout.EventProfileUpdated {
		t.Errorf("published = %v", names)
	}

	for _, path := range []string{"/users/me", "/users/" + id.Hex()} {
		code, resp = do(t, r, http.MethodGet, path, "", id)
		if code != http.StatusOK {
			t.Fatalf("GET %s: %d %+v", path, code, resp)
		}
		var p userdir.Profile
		if err := json.Unmarshal(resp.Data, &p); err != nil {
			t.Fatalf("decode profile: %v", err)
		}
		if p.ID != id || p.FullName != "Tenzing Norgay" {
			t.Errorf("GET %s = %+v", path, p)
		}
	}
}

func TestProfileErrors(t *testing.T) {
	r, users, _ := newTestEngine()
	id := primitive.NewObjectID()
	users.Put(userdir.Profile{ID: id, FullName: "Ang"})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		user   primitive.ObjectID
		status int
	}{
		{"bad user id", http.MethodGet, "/users/nope", "", id, http.StatusBadRequest},
		{"unknown user", http.MethodGet, "/users/" + primitive.NewObjectID().Hex(), "", id, http.StatusNotFound},
		{"unauthenticated", http.MethodPatch, "/users/profile", `{"fullName":"X"}`, primitive.NilObjectID, http.StatusUnauthorized},
		{"malformed body", http.MethodPatch, "/users/profile", `{"fullName":`, id, http.StatusBadRequest},
		{"empty update", http.MethodPatch, "/users/profile", `{}`, id, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := do(t, r, tt.method, tt.path, tt.body, tt.user)
			if code != tt.status || resp.Status == "success" {
				t.Errorf("%d %+v, want %d", code, resp, tt.status)
			}
		})
	}
}
