package dao

import (
	"context"

	"trekmate/apps/history-service/model"
)

// ActivityDAO 群组动态数据访问接口
type ActivityDAO interface {
	// Record 写入一条记录，重复投递的事件返回false
	Record(ctx context.Context, record *model.ActivityRecord) (bool, error)
	// List 按时间倒序分页
	List(ctx context.Context, groupID string, page, limit int) ([]*model.ActivityRecord, int64, error)
	// Stats 群组各事件类型统计
	Stats(ctx context.Context, groupID string) ([]*model.GroupEventStats, error)
}
