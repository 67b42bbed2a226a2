package chatsession

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"trekmate/pkg/msgstore"
)

// APIError 服务端返回的失败响应，Message 原样展示给用户
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// RESTClient 通过群组服务与消息服务的REST接口实现 API
type RESTClient struct {
	userURL    string
	groupURL   string
	messageURL string
	token      string
	http       *http.Client
}

// NewRESTClient httpClient 为nil时使用10秒超时的默认客户端
func NewRESTClient(groupURL, messageURL, token string, httpClient *http.Client) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTClient{
		groupURL:   strings.TrimRight(groupURL, "/"),
		messageURL: strings.TrimRight(messageURL, "/"),
		token:      token,
		http:       httpClient,
	}
}

// WithUserURL 设置用户服务地址，UpdateProfile 需要
func (c *RESTClient) WithUserURL(userURL string) *RESTClient {
	c.userURL = strings.TrimRight(userURL, "/")
	return c
}

// ProfileUpdate 资料更新，空字段不修改
type ProfileUpdate struct {
	FullName       string `json:"fullName,omitempty"`
	Username       string `json:"username,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// UpdateProfile 修改当前用户资料，成员会经 profile-updated 事件收到变更
func (c *RESTClient) UpdateProfile(ctx context.Context, update *ProfileUpdate) error {
	if c.userURL == "" {
		return fmt.Errorf("user service url not configured")
	}
	return c.do(ctx, http.MethodPatch, c.userURL+"/users/profile", update, nil)
}

func (c *RESTClient) MyGroups(ctx context.Context) ([]*GroupSummary, error) {
	var out struct {
		Groups []*GroupSummary `json:"groups"`
	}
	if err := c.do(ctx, http.MethodGet, c.groupURL+"/groups/my-groups?withPreview=true", nil, &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

func (c *RESTClient) GroupDetail(ctx context.Context, groupID string) (*GroupDetail, error) {
	var out GroupDetail
	if err := c.do(ctx, http.MethodGet, c.groupURL+"/groups/"+url.PathEscape(groupID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RESTClient) Messages(ctx context.Context, groupID string, page, limit int) ([]*msgstore.View, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	var out []*msgstore.View
	path := c.messageURL + "/groups/" + url.PathEscape(groupID) + "/messages?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) SendMessage(ctx context.Context, req *SendRequest) (*msgstore.View, error) {
	var out msgstore.View
	if err := c.do(ctx, http.MethodPost, c.messageURL+"/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RESTClient) JoinGroup(ctx context.Context, groupID string) (*GroupSummary, error) {
	var out GroupSummary
	if err := c.do(ctx, http.MethodPost, c.groupURL+"/groups/"+url.PathEscape(groupID)+"/join", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RESTClient) LeaveGroup(ctx context.Context, groupID string) error {
	return c.do(ctx, http.MethodPost, c.groupURL+"/groups/"+url.PathEscape(groupID)+"/leave", nil, nil)
}

// do 发送请求并拆开统一响应结构
func (c *RESTClient) do(ctx context.Context, method, target string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode %s %s: %w", method, target, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
