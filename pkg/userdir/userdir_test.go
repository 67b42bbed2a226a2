package userdir

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/pkg/apperr"
)

func TestProfileDisplay(t *testing.T) {
	tests := []struct {
		name       string
		p          *Profile
		wantName   string
		wantAvatar string
	}{
		{"username wins", &Profile{Username: "ridge_runner", FullName: "Asha Rai", ProfilePicture: "a.jpg"}, "ridge_runner", "a.jpg"},
		{"full name fallback", &Profile{FullName: "Asha Rai"}, "Asha Rai", DefaultProfilePicture},
		{"nil profile", nil, "Unknown user", DefaultProfilePicture},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.DisplayName(); got != tt.wantName {
				t.Errorf("DisplayName() = %q, want %q", got, tt.wantName)
			}
			if got := tt.p.Avatar(); got != tt.wantAvatar {
				t.Errorf("Avatar() = %q, want %q", got, tt.wantAvatar)
			}
		})
	}
}

func TestMemoryDirectoryJoinedGroupsIsASet(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory()
	user := primitive.NewObjectID()
	group := primitive.NewObjectID()
	d.Put(Profile{ID: user, FullName: "Asha Rai"})

	for i := 0; i < 2; i++ {
		if err := d.AddJoinedGroup(ctx, user, group); err != nil {
			t.Fatalf("AddJoinedGroup() error = %v", err)
		}
	}
	ids, _ := d.JoinedGroups(ctx, user)
	if len(ids) != 1 {
		t.Fatalf("JoinedGroups() = %v, want exactly one entry", ids)
	}

	_ = d.RemoveJoinedGroup(ctx, user, group)
	if d.HasJoined(user, group) {
		t.Error("group should be removed from the index")
	}

	if err := d.AddJoinedGroup(ctx, primitive.NewObjectID(), group); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("unknown user error = %v, want not found", err)
	}

	d.SetIndexErr(errors.New("write conflict"))
	if err := d.AddJoinedGroup(ctx, user, group); err == nil {
		t.Error("injected index error should surface")
	}
}
