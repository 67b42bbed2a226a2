package fanout

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// 事件名，与前端订阅的事件保持一致
const (
	EventNewMessage     = "new-message"
	EventMessageUpdated = "message-updated"
	EventMessageDeleted = "message-deleted"
	EventMemberJoined   = "member-joined"
	EventMemberLeft     = "member-left"
	EventMemberPromoted = "member-promoted"
	EventProfileUpdated = "profile-updated"
)

// ProfileChannel 用户资料变更的全局频道
const ProfileChannel = "profile-updates"

const (
	messageChannelPrefix = "group-"
	updatesChannelPrefix = "group-updates-"
)

// MessageChannel 群消息频道 group-{id}
func MessageChannel(groupID string) string {
	return messageChannelPrefix + groupID
}

// UpdatesChannel 群成员变更频道 group-updates-{id}
func UpdatesChannel(groupID string) string {
	return updatesChannelPrefix + groupID
}

// GroupChannels 一个群的两个频道
func GroupChannels(groupID string) []string {
	return []string{MessageChannel(groupID), UpdatesChannel(groupID)}
}

// ChannelFor 事件所属频道
func ChannelFor(event, groupID string) string {
	switch event {
	case EventMemberJoined, EventMemberLeft, EventMemberPromoted:
		return UpdatesChannel(groupID)
	case EventProfileUpdated:
		return ProfileChannel
	default:
		return MessageChannel(groupID)
	}
}

// GroupIDFromChannel 从频道名解析群ID
func GroupIDFromChannel(channel string) (string, bool) {
	if strings.HasPrefix(channel, updatesChannelPrefix) {
		return strings.TrimPrefix(channel, updatesChannelPrefix), true
	}
	if strings.HasPrefix(channel, messageChannelPrefix) {
		return strings.TrimPrefix(channel, messageChannelPrefix), true
	}
	return "", false
}

// MemberPayload 成员事件载荷，User 为被加入、移除或提升的用户
type MemberPayload struct {
	GroupID        string    `json:"groupId"`
	User           string    `json:"user"`
	Role           string    `json:"role,omitempty"`
	FullName       string    `json:"fullName,omitempty"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	JoinedAt       time.Time `json:"joinedAt,omitempty"`
	MemberCount    int       `json:"memberCount"`
}

// ProfilePayload 资料变更载荷
type ProfilePayload struct {
	User           string `json:"user"`
	FullName       string `json:"fullName,omitempty"`
	Username       string `json:"username,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// DeletedPayload 消息删除载荷
type DeletedPayload struct {
	ID      string `json:"_id"`
	GroupID string `json:"groupId"`
}

// 网关对控制帧的应答事件
const (
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventRejected     = "rejected"
)

// 客户端控制帧动作
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// ControlFrame 客户端经WebSocket发来的控制帧。
// 加入新群后客户端发送 subscribe，网关核对成员索引后追加订阅
type ControlFrame struct {
	Action  string `json:"action"`
	GroupID string `json:"groupId"`
}

// Event 推送信封。Seq 为群内单调递增序号，客户端据此检测乱序与丢失；
// 成员事件携带产生它的系统消息序号。
type Event struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	GroupID string          `json:"groupId,omitempty"`
	Seq     int64           `json:"seq"`
	ActorID string          `json:"actorId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	At      time.Time       `json:"at"`
}

// NewEvent 构造事件，data 按JSON编码
func NewEvent(event, groupID string, seq int64, actorID string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return &Event{
		Event:   event,
		Channel: ChannelFor(event, groupID),
		GroupID: groupID,
		Seq:     seq,
		ActorID: actorID,
		Data:    raw,
		At:      time.Now().UTC(),
	}, nil
}

// Encode 编码为线上格式
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeData 解码载荷
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Decode 解码线上格式
func Decode(b []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	if e.Event == "" {
		return nil, fmt.Errorf("event name missing")
	}
	return &e, nil
}
