package dao

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/group-service/model"
	"trekmate/pkg/userdir"
)

// ErrConditionFailed 条件更新未命中：群不存在或前置条件在读取后已变化，调用方需重新读取判断
var ErrConditionFailed = errors.New("group precondition no longer holds")

// GroupDAO 群组数据访问接口。成员变更都是单次条件更新，过滤条件重述业务前置条件
type GroupDAO interface {
	// 群组管理
	CreateGroup(ctx context.Context, group *model.Group) error
	DeleteGroup(ctx context.Context, groupID primitive.ObjectID) error
	GetGroup(ctx context.Context, groupID primitive.ObjectID) (*model.Group, error)
	ListGroups(ctx context.Context, q model.ListQuery) ([]*model.Group, int64, error)
	GetUserGroups(ctx context.Context, userID primitive.ObjectID) ([]*model.Group, error)
	UpdateGroup(ctx context.Context, groupID, requester primitive.ObjectID, update *model.GroupUpdate, at time.Time) (*model.Group, error)

	// 群成员管理
	AddMember(ctx context.Context, groupID primitive.ObjectID, user *userdir.Profile, at time.Time) (*model.Group, error)
	LeaveGroup(ctx context.Context, groupID, userID primitive.ObjectID, at time.Time) (*model.Group, error)
	PromoteMember(ctx context.Context, groupID, requester, target primitive.ObjectID, at time.Time) (*model.Group, error)
	RemoveMember(ctx context.Context, groupID, requester, target primitive.ObjectID, at time.Time) (*model.Group, error)

	// 补偿操作，用户索引同步失败时撤销群文档变更
	RestoreMember(ctx context.Context, groupID primitive.ObjectID, member model.Member) error
	PullMember(ctx context.Context, groupID, userID primitive.ObjectID) error

	// 置顶消息
	PinMessage(ctx context.Context, groupID, requester, messageID primitive.ObjectID, at time.Time) (*model.Group, error)
	UnpinMessage(ctx context.Context, groupID, requester, messageID primitive.ObjectID, at time.Time) (*model.Group, error)
}
