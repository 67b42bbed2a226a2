package chatsession

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"trekmate/pkg/apperr"
	"trekmate/pkg/httpx"
	"trekmate/pkg/msgstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRESTServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer token-1" {
			httpx.WriteError(c, nil, apperr.Unauthorized("Not authorized, no token"))
			return
		}
		c.Next()
	})
	r.GET("/groups/my-groups", func(c *gin.Context) {
		if c.Query("withPreview") != "true" {
			httpx.WriteError(c, nil, apperr.BadRequest("preview expected"))
			return
		}
		httpx.WriteObject(c, http.StatusOK, "", gin.H{"groups": []gin.H{
			{"_id": "g1", "name": "EBC Trek", "memberCount": 2, "latestMessage": gin.H{"text": "hi", "seq": 3}},
		}})
	})
	r.GET("/groups/:groupId/messages", func(c *gin.Context) {
		httpx.WriteObject(c, http.StatusOK, "Messages retrieved successfully", []gin.H{
			{"text": "one", "seq": 1}, {"text": "two", "seq": 2},
		})
	})
	r.POST("/messages", func(c *gin.Context) {
		var req SendRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.GroupID == "" {
			httpx.WriteError(c, nil, apperr.BadRequest("Message text is required"))
			return
		}
		httpx.WriteObject(c, http.StatusCreated, "Message sent successfully", gin.H{"text": req.Text, "seq": 4})
	})
	r.POST("/groups/:groupId/join", func(c *gin.Context) {
		httpx.WriteError(c, nil, apperr.Conflict("This group is already full"))
	})
	r.PATCH("/users/profile", func(c *gin.Context) {
		var req ProfileUpdate
		if err := c.ShouldBindJSON(&req); err != nil || req.FullName == "" {
			httpx.WriteError(c, nil, apperr.BadRequest("No profile fields to update"))
			return
		}
		httpx.WriteObject(c, http.StatusOK, "Profile updated successfully", gin.H{"fullName": req.FullName})
	})
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func TestRESTClient(t *testing.T) {
	ctx := context.Background()
	ts := newRESTServer(t)
	client := NewRESTClient(ts.URL, ts.URL+"/", "token-1", nil)

	groups, err := client.MyGroups(ctx)
	if err != nil {
		t.Fatalf("MyGroups() error = %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "EBC Trek" || groups[0].LatestMessage == nil || groups[0].LatestMessage.Seq != 3 {
		t.Errorf("groups = %+v", groups)
	}

	msgs, err := client.Messages(ctx, "g1", 1, 50)
	if err != nil || len(msgs) != 2 || msgs[1].Seq != 2 {
		t.Errorf("Messages() = %v, %v", msgs, err)
	}

	sent, err := client.SendMessage(ctx, &SendRequest{GroupID: "g1", Text: "Welcome!", Attachments: []msgstore.Attachment{{FileURL: "https://cdn/x.jpg"}}})
	if err != nil || sent.Text != "Welcome!" {
		t.Errorf("SendMessage() = %+v, %v", sent, err)
	}

	_, err = client.JoinGroup(ctx, "g1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "This group is already full" {
		t.Errorf("JoinGroup() error = %v", err)
	}
}

func TestRESTClientUnauthorized(t *testing.T) {
	ts := newRESTServer(t)
	_, err := NewRESTClient(ts.URL, ts.URL, "stale", nil).MyGroups(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("MyGroups() error = %v", err)
	}
}

func TestRESTClientUpdateProfile(t *testing.T) {
	ctx := context.Background()
	ts := newRESTServer(t)
	client := NewRESTClient(ts.URL, ts.URL, "token-1", nil)

	if err := client.UpdateProfile(ctx, &ProfileUpdate{FullName: "Asha"}); err == nil {
		t.Fatal("UpdateProfile() without user url should fail")
	}

	client.WithUserURL(ts.URL + "/")
	if err := client.UpdateProfile(ctx, &ProfileUpdate{FullName: "Asha"}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	err := client.UpdateProfile(ctx, &ProfileUpdate{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "No profile fields to update" {
		t.Errorf("UpdateProfile(empty) error = %v", err)
	}
}
