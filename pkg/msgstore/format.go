package msgstore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/pkg/userdir"
)

// ReplyView 被回复消息的摘要
type ReplyView struct {
	ID      primitive.ObjectID `json:"_id"`
	Content string             `json:"content"`
	Sender  string             `json:"sender"`
}

// View 客户端展示格式，REST响应与推送事件共用
type View struct {
	ID              primitive.ObjectID `json:"_id"`
	Text            string             `json:"text"`
	Sender          primitive.ObjectID `json:"sender"`
	SenderUsername  string             `json:"senderUsername"`
	SenderAvatar    string             `json:"senderAvatar"`
	Group           primitive.ObjectID `json:"group"`
	Seq             int64              `json:"seq"`
	CreatedAt       time.Time          `json:"createdAt"`
	Attachments     []Attachment       `json:"attachments"`
	ReplyTo         *ReplyView         `json:"replyTo"`
	IsSystemMessage bool               `json:"isSystemMessage"`
	IsEdited        bool               `json:"isEdited"`
	ReadBy          []ReadReceipt      `json:"readBy,omitempty"`
}

// ProfileSource 批量读取用户资料
type ProfileSource interface {
	GetUsers(ctx context.Context, userIDs []primitive.ObjectID) (map[primitive.ObjectID]*userdir.Profile, error)
}

// Formatter 解析发送者资料和回复引用
type Formatter struct {
	store    Store
	profiles ProfileSource
}

func NewFormatter(store Store, profiles ProfileSource) *Formatter {
	return &Formatter{store: store, profiles: profiles}
}

// Format 保持输入顺序；资料缺失的发送者显示为未知用户
func (f *Formatter) Format(ctx context.Context, msgs ...*Message) ([]*View, error) {
	var replyIDs []primitive.ObjectID
	for _, m := range msgs {
		if m.ReplyTo != nil {
			replyIDs = append(replyIDs, *m.ReplyTo)
		}
	}
	replies, err := f.store.GetMany(ctx, replyIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[primitive.ObjectID]struct{})
	var userIDs []primitive.ObjectID
	addUser := func(id primitive.ObjectID) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			userIDs = append(userIDs, id)
		}
	}
	for _, m := range msgs {
		addUser(m.Sender)
	}
	for _, r := range replies {
		addUser(r.Sender)
	}
	profiles, err := f.profiles.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	views := make([]*View, 0, len(msgs))
	for _, m := range msgs {
		sender := profiles[m.Sender]
		v := &View{
			ID:              m.ID,
			Text:            m.Content,
			Sender:          m.Sender,
			SenderUsername:  sender.DisplayName(),
			SenderAvatar:    sender.Avatar(),
			Group:           m.Group,
			Seq:             m.Seq,
			CreatedAt:       m.CreatedAt,
			Attachments:     m.Attachments,
			IsSystemMessage: m.IsSystemMessage,
			IsEdited:        m.IsEdited,
			ReadBy:          m.ReadBy,
		}
		if v.Attachments == nil {
			v.Attachments = []Attachment{}
		}
		if m.ReplyTo != nil {
			if r, ok := replies[*m.ReplyTo]; ok {
				v.ReplyTo = &ReplyView{ID: r.ID, Content: r.Content, Sender: profiles[r.Sender].DisplayName()}
			}
		}
		views = append(views, v)
	}
	return views, nil
}

// FormatOne 单条消息
func (f *Formatter) FormatOne(ctx context.Context, m *Message) (*View, error) {
	views, err := f.Format(ctx, m)
	if err != nil {
		return nil, err
	}
	return views[0], nil
}
