package chatsession

import (
	"context"
	"errors"
	"time"

	"trekmate/pkg/fanout"
	"trekmate/pkg/msgstore"
)

// State 会话状态
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateGroupActive
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateGroupActive:
		return "group-active"
	default:
		return "disconnected"
	}
}

var (
	ErrNotConnected   = errors.New("chat session is not connected")
	ErrAlreadyRunning = errors.New("chat session is already connected")
	ErrNoActiveGroup  = errors.New("no group selected")
	ErrUnknownGroup   = errors.New("group is not in the sidebar")
	ErrEmptyMessage   = errors.New("message text is empty")
)

// Member 群成员及展示资料
type Member struct {
	User           string    `json:"user"`
	Role           string    `json:"role"`
	JoinedAt       time.Time `json:"joinedAt"`
	FullName       string    `json:"fullName"`
	ProfilePicture string    `json:"profilePicture"`
}

// GroupSummary 侧边栏条目，来自我的群组接口
type GroupSummary struct {
	ID            string         `json:"_id"`
	Name          string         `json:"name"`
	TrekRoute     string         `json:"trekRoute"`
	GroupImage    string         `json:"groupImage"`
	MemberCount   int            `json:"memberCount"`
	LastActivity  time.Time      `json:"lastActivity"`
	LatestMessage *msgstore.View `json:"latestMessage,omitempty"`
}

// GroupDetail 群组详情
type GroupDetail struct {
	ID             string           `json:"_id"`
	Name           string           `json:"name"`
	MemberCount    int              `json:"memberCount"`
	MemberProfiles []Member         `json:"memberProfiles"`
	PinnedMessages []*msgstore.View `json:"pinnedMessages"`
}

// SendRequest 发送消息请求体
type SendRequest struct {
	GroupID     string                `json:"groupId"`
	Text        string                `json:"text"`
	ReplyTo     string                `json:"replyTo,omitempty"`
	Attachments []msgstore.Attachment `json:"attachments,omitempty"`
}

// API 会话依赖的REST接口
type API interface {
	MyGroups(ctx context.Context) ([]*GroupSummary, error)
	GroupDetail(ctx context.Context, groupID string) (*GroupDetail, error)
	Messages(ctx context.Context, groupID string, page, limit int) ([]*msgstore.View, error)
	SendMessage(ctx context.Context, req *SendRequest) (*msgstore.View, error)
	JoinGroup(ctx context.Context, groupID string) (*GroupSummary, error)
	LeaveGroup(ctx context.Context, groupID string) error
}

// Stream 实时推送连接
type Stream interface {
	Events() <-chan *fanout.Event
	Control(ctx context.Context, frame fanout.ControlFrame) error
	Close() error
}

// Dialer 建立推送连接
type Dialer func(ctx context.Context) (Stream, error)

// ChangeKind 界面需要刷新的部分
type ChangeKind string

const (
	ChangeGroups       ChangeKind = "groups"
	ChangeMessages     ChangeKind = "messages"
	ChangeMembers      ChangeKind = "members"
	ChangeUnread       ChangeKind = "unread"
	ChangeGap          ChangeKind = "gap"
	ChangeNotice       ChangeKind = "notice"
	ChangeDisconnected ChangeKind = "disconnected"
)

// Change 状态变更通知
type Change struct {
	Kind    ChangeKind
	GroupID string
	Message *msgstore.View
	Gap     *Gap
	Notice  string
}

// Gap 某群缺失的序号区间 [From, To]
type Gap struct {
	GroupID string
	From    int64
	To      int64
}
