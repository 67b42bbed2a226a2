package dao

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trekmate/apps/history-service/model"
	"trekmate/pkg/database"
)

// activityDAO 群组动态数据访问实现
type activityDAO struct {
	db *database.PostgreSQL
}

// NewActivityDAO 创建群组动态DAO实例
func NewActivityDAO(db *database.PostgreSQL) ActivityDAO {
	return &activityDAO{
		db: db,
	}
}

// Record 去重写入记录并累加统计，两步在同一事务内
func (d *activityDAO) Record(ctx context.Context, record *model.ActivityRecord) (bool, error) {
	inserted := false
	err := d.db.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(record)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		inserted = true

		stats := &model.GroupEventStats{
			GroupID:    record.GroupID,
			Event:      record.Event,
			TotalCount: 1,
			LastSeq:    record.Seq,
			LastAt:     record.At,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "group_id"}, {Name: "event"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_count": gorm.Expr("group_event_stats.total_count + 1"),
				"last_seq":    gorm.Expr("GREATEST(group_event_stats.last_seq, ?)", record.Seq),
				"last_at":     gorm.Expr("GREATEST(group_event_stats.last_at, ?)", record.At),
				"updated_at":  time.Now().UTC(),
			}),
		}).Create(stats).Error
	})
	return inserted, err
}

// List 获取群组动态
func (d *activityDAO) List(ctx context.Context, groupID string, page, limit int) ([]*model.ActivityRecord, int64, error) {
	query := d.db.GetDB().WithContext(ctx).Model(&model.ActivityRecord{}).Where("group_id = ?", groupID)

	// 获取总数
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	offset := (page - 1) * limit
	var records []*model.ActivityRecord
	err := query.Order("at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&records).Error
	return records, total, err
}

// Stats 获取群组事件统计
func (d *activityDAO) Stats(ctx context.Context, groupID string) ([]*model.GroupEventStats, error) {
	var stats []*model.GroupEventStats
	err := d.db.GetDB().WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("event ASC").
		Find(&stats).Error
	return stats, err
}
