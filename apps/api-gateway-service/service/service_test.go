package service

import (
	"testing"

	"trekmate/apps/api-gateway-service/model"
	"trekmate/pkg/apperr"
	"trekmate/pkg/logger"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		path    string
		service string
		rest    string
		wantErr bool
	}{
		{"/api/v1/group-service/groups/my-groups", "group-service", "/groups/my-groups", false},
		{"/api/v1/vote-service/post/upvote/abc", "vote-service", "/post/upvote/abc", false},
		{"/api/v1/im-gateway-service/ws", "im-gateway-service", "/ws", false},
		{"/api/v1/group-service", "", "", true},
		{"/api/v1/group-service/", "", "", true},
		{"/api/v1//groups", "", "", true},
		{"/groups/my-groups", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			service, rest, err := Resolve(tt.path)
			if tt.wantErr {
				if !apperr.IsKind(err, apperr.KindValidation) || apperr.MessageOf(err) != model.MsgInvalidRoute {
					t.Errorf("Resolve() error = %v, want invalid route", err)
				}
				return
			}
			if err != nil || service != tt.service || rest != tt.rest {
				t.Errorf("Resolve() = %q %q %v, want %q %q", service, rest, err, tt.service, tt.rest)
			}
		})
	}
}

func TestNewService(t *testing.T) {
	log := logger.NewNopLogger()
	if _, err := NewService(map[string]string{"group-service": "localhost:21002"}, log); err == nil {
		t.Error("NewService() should reject a url without scheme")
	}

	svc, err := NewService(map[string]string{
		"vote-service":  "http://localhost:21006",
		"group-service": "http://localhost:21002",
		"user-service":  "",
	}, log)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	routes := svc.Routes()
	if len(routes) != 2 || routes[0].Service != "group-service" || routes[1].Target != "http://localhost:21006" {
		t.Errorf("Routes() = %+v", routes)
	}
}
