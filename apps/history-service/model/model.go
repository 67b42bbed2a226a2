package model

import (
	"time"
)

// 分页常量
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// 响应消息
const (
	MsgInvalidGroupID = "Invalid group ID"
	MsgInvalidPaging  = "Page and limit must be positive"
)

// ActivityRecord 群组动态记录，每条扇出事件一行
type ActivityRecord struct {
	ID      int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	GroupID string    `json:"groupId" gorm:"type:varchar(24);not null;index:idx_group_time;uniqueIndex:idx_activity_dedupe"`
	Event   string    `json:"event" gorm:"type:varchar(32);not null;uniqueIndex:idx_activity_dedupe"`
	ActorID string    `json:"actorId,omitempty" gorm:"type:varchar(24)"`
	Subject string    `json:"subject,omitempty" gorm:"type:varchar(24)"` // 成员事件的目标用户或被删消息ID
	Seq     int64     `json:"seq" gorm:"not null;uniqueIndex:idx_activity_dedupe"`
	At      time.Time `json:"at" gorm:"not null;index:idx_group_time;uniqueIndex:idx_activity_dedupe"`
}

// TableName .
func (ActivityRecord) TableName() string {
	return "group_activity_records"
}

// GroupEventStats 群组按事件类型的累计统计
type GroupEventStats struct {
	ID         int64     `json:"-" gorm:"primaryKey;autoIncrement"`
	GroupID    string    `json:"groupId" gorm:"type:varchar(24);not null;uniqueIndex:idx_group_event"`
	Event      string    `json:"event" gorm:"type:varchar(32);not null;uniqueIndex:idx_group_event"`
	TotalCount int64     `json:"totalCount" gorm:"default:0"`
	LastSeq    int64     `json:"lastSeq" gorm:"default:0"`
	LastAt     time.Time `json:"lastAt"`
	UpdatedAt  time.Time `json:"-" gorm:"autoUpdateTime"`
}

// TableName .
func (GroupEventStats) TableName() string {
	return "group_event_stats"
}

// ActivityPage 分页结果
type ActivityPage struct {
	Activities  []*ActivityRecord `json:"activities"`
	Total       int64             `json:"total"`
	CurrentPage int               `json:"currentPage"`
	TotalPages  int               `json:"totalPages"`
}

// NormalizePaging 缺省值与上限
func NormalizePaging(page, limit int) (int, int) {
	if page == 0 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

// TotalPages 总页数
func TotalPages(total int64, limit int) int {
	if limit <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}
