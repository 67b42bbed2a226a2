package model

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/pkg/msgstore"
)

// 群内角色，与群组服务一致
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// 分页
const (
	DefaultPage  = 1
	DefaultLimit = msgstore.DefaultPageSize
	MaxLimit     = 100
)

// 错误文案
const (
	MsgGroupNotFound     = "Group not found"
	MsgMessageNotFound   = "Message not found"
	MsgInvalidGroupID    = "Invalid group ID"
	MsgInvalidMessageID  = "Invalid message ID"
	MsgTextRequired      = "Group ID and message text are required"
	MsgContentRequired   = "Message content is required"
	MsgSendNotMember     = "You must be a member of the group to send messages"
	MsgNotMember         = "You are not a member of this group"
	MsgEditOwnOnly       = "You can only edit your own messages"
	MsgEditSystem        = "System messages cannot be edited"
	MsgDeleteNotAllowed  = "You don't have permission to delete this message"
	MsgReplyNotInGroup   = "Reply target must be a message in this group"
	MsgTooManyAttachment = "A message can carry at most 10 attachments"
)

// MaxAttachments 单条消息附件上限
const MaxAttachments = 10

// Membership 某用户在群内的身份
type Membership struct {
	GroupID primitive.ObjectID
	Role    string // 空表示非成员
}

// IsMember 是否为成员
func (m *Membership) IsMember() bool {
	return m != nil && m.Role != ""
}

// IsAdmin 是否为管理员
func (m *Membership) IsAdmin() bool {
	return m != nil && m.Role == RoleAdmin
}

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	GroupID     string                `json:"groupId" binding:"required,objectid"`
	Text        string                `json:"text"`
	ReplyTo     string                `json:"replyTo" binding:"omitempty,objectid"`
	Attachments []msgstore.Attachment `json:"attachments" binding:"omitempty,dive"`
}

// EditMessageRequest 编辑消息请求，兼容 text 字段
type EditMessageRequest struct {
	Content string `json:"content"`
	Text    string `json:"text"`
}

// Body 编辑后的正文
func (r *EditMessageRequest) Body() string {
	if r.Content != "" {
		return r.Content
	}
	return r.Text
}

// ReadResult 已读回执结果
type ReadResult struct {
	MessageID primitive.ObjectID     `json:"messageId"`
	ReadBy    []msgstore.ReadReceipt `json:"readBy"`
	Added     bool                   `json:"added"`
}
