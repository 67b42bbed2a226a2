package model

import "time"

// 连接保活参数
const (
	WriteWait    = 10 * time.Second
	PongWait     = 60 * time.Second
	PingPeriod   = (PongWait * 9) / 10
	MaxFrameSize = 4096
)

// PresenceTTL 在线记录过期时间，心跳续期
const PresenceTTL = 2 * PongWait

// 错误文案
const (
	MsgInvalidUserID  = "Invalid user ID"
	MsgInvalidGroupID = "Invalid group ID"
	MsgNotMember      = "You are not a member of this group"
	MsgUnknownAction  = "Unknown action"
)

// Presence 用户在线状态
type Presence struct {
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
	Sessions int    `json:"sessions"`
}
