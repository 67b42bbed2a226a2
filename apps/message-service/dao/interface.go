package dao

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/message-service/model"
)

// MembershipDAO 只读访问群文档中的成员关系，群组服务是唯一写入方
type MembershipDAO interface {
	// GetMembership 群不存在返回 NotFound；非成员返回 Role 为空的结果
	GetMembership(ctx context.Context, groupID, userID primitive.ObjectID) (*model.Membership, error)
}
