package msgstore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultPageSize 历史消息默认分页大小
const DefaultPageSize = 50

// 附件类型
const (
	FileTypeImage    = "image"
	FileTypeDocument = "document"
	FileTypeVideo    = "video"
	FileTypeAudio    = "audio"
	FileTypeOther    = "other"
)

// ReadReceipt 已读回执，每个用户至多一条
type ReadReceipt struct {
	User   primitive.ObjectID `bson:"user" json:"user"`
	ReadAt time.Time          `bson:"readAt" json:"readAt"`
}

// Attachment 附件，文件本身由媒体存储负责
type Attachment struct {
	FileURL  string `bson:"fileUrl" json:"fileUrl" binding:"required"`
	FileType string `bson:"fileType,omitempty" json:"fileType,omitempty" binding:"omitempty,oneof=image document video audio other"`
	FileName string `bson:"fileName,omitempty" json:"fileName,omitempty"`
	FileSize int64  `bson:"fileSize,omitempty" json:"fileSize,omitempty"`
}

// Message 群消息。Seq 为群内序号，与群的 lastActivity 一起原子分配
type Message struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"_id"`
	Content         string              `bson:"content" json:"content"`
	Sender          primitive.ObjectID  `bson:"sender" json:"sender"`
	Group           primitive.ObjectID  `bson:"group" json:"group"`
	Seq             int64               `bson:"seq" json:"seq"`
	ReadBy          []ReadReceipt       `bson:"readBy" json:"readBy"`
	Attachments     []Attachment        `bson:"attachments" json:"attachments"`
	ReplyTo         *primitive.ObjectID `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
	IsSystemMessage bool                `bson:"isSystemMessage" json:"isSystemMessage"`
	IsEdited        bool                `bson:"isEdited" json:"isEdited"`
	CreatedAt       time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// HasRead 用户是否已读
func (m *Message) HasRead(userID primitive.ObjectID) bool {
	for _, r := range m.ReadBy {
		if r.User == userID {
			return true
		}
	}
	return false
}

// Sequencer 为群分配下一个消息序号并刷新 lastActivity
type Sequencer interface {
	NextSeq(ctx context.Context, groupID primitive.ObjectID, at time.Time) (int64, error)
}

// Store 群消息日志
type Store interface {
	// Append 分配ID、序号和创建时间后写入
	Append(ctx context.Context, m *Message) error
	Get(ctx context.Context, id primitive.ObjectID) (*Message, error)
	GetMany(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*Message, error)
	// List 按创建时间倒序分页，返回时已翻转为正序
	List(ctx context.Context, groupID primitive.ObjectID, page, limit int) ([]*Message, error)
	// Latest 群内最新一条消息，没有消息时返回 nil
	Latest(ctx context.Context, groupID primitive.ObjectID) (*Message, error)
	// UpdateContent 只更新非系统消息；系统消息按不存在处理返回NotFound，调用方需先判断返回Forbidden
	UpdateContent(ctx context.Context, id primitive.ObjectID, content string, at time.Time) (*Message, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	// MarkRead 追加已读回执，已读过时 added 为 false
	MarkRead(ctx context.Context, id, userID primitive.ObjectID, at time.Time) (m *Message, added bool, err error)
}

// NewMessage 用户消息，发送者自动标记为已读
func NewMessage(groupID, sender primitive.ObjectID, content string, replyTo *primitive.ObjectID, attachments []Attachment) *Message {
	if attachments == nil {
		attachments = []Attachment{}
	}
	return &Message{
		Content:     content,
		Sender:      sender,
		Group:       groupID,
		ReadBy:      []ReadReceipt{{User: sender}},
		Attachments: attachments,
		ReplyTo:     replyTo,
	}
}

// NewSystemMessage 成员变更产生的系统消息，归属于操作者
func NewSystemMessage(groupID, actor primitive.ObjectID, content string) *Message {
	return &Message{
		Content:         content,
		Sender:          actor,
		Group:           groupID,
		ReadBy:          []ReadReceipt{},
		Attachments:     []Attachment{},
		IsSystemMessage: true,
	}
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	return page, limit
}

func reverse(msgs []*Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
