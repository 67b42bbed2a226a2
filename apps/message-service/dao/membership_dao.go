package dao

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trekmate/apps/message-service/model"
	"trekmate/pkg/apperr"
	"trekmate/pkg/database"
)

type membershipDAO struct {
	groups *mongo.Collection
}

// NewMembershipDAO 基于 groups 集合
func NewMembershipDAO(db *database.MongoDB) MembershipDAO {
	return &membershipDAO{groups: db.GetCollection(database.CollectionGroups)}
}

func (d *membershipDAO) GetMembership(ctx context.Context, groupID, userID primitive.ObjectID) (*model.Membership, error) {
	var doc struct {
		Members []struct {
			User primitive.ObjectID `bson:"user"`
			Role string             `bson:"role"`
		} `bson:"members"`
	}
	// 只取调用者自己的成员条目
	opts := options.FindOne().SetProjection(bson.M{
		"members": bson.M{"$elemMatch": bson.M{"user": userID}},
	})
	err := d.groups.FindOne(ctx, bson.M{"_id": groupID}, opts).Decode(&doc)
	if database.IsNotFound(err) {
		return nil, apperr.NotFound(model.MsgGroupNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find group membership: %w", err)
	}

	m := &model.Membership{GroupID: groupID}
	if len(doc.Members) > 0 {
		m.Role = doc.Members[0].Role
	}
	return m, nil
}
