package dao

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/vote-service/model"
)

// VoteDAO 投票数据访问接口
type VoteDAO interface {
	Get(ctx context.Context, target model.Target, id primitive.ObjectID) (*model.Votable, error)
	// Apply 单次条件更新，过滤条件重述 outcome 的前提；前提已变化时返回 false
	Apply(ctx context.Context, target model.Target, id, voter primitive.ObjectID, dir model.Direction, outcome model.Outcome) (bool, error)
}
