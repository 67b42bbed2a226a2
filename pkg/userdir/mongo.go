package userdir

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trekmate/pkg/apperr"
	"trekmate/pkg/database"
)

var profileProjection = bson.M{
	"fullName":       1,
	"username":       1,
	"gender":         1,
	"age":            1,
	"profilePicture": 1,
}

// MongoDirectory users 集合
type MongoDirectory struct {
	users *mongo.Collection
}

func NewMongoDirectory(db *database.MongoDB) *MongoDirectory {
	return &MongoDirectory{users: db.GetCollection(database.CollectionUsers)}
}

// GetUser 按ID查询资料
func (d *MongoDirectory) GetUser(ctx context.Context, userID primitive.ObjectID) (*Profile, error) {
	var p Profile
	err := d.users.FindOne(ctx, bson.M{"_id": userID}, options.FindOne().SetProjection(profileProjection)).Decode(&p)
	if database.IsNotFound(err) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &p, nil
}

// GetUsers 批量查询，不存在的ID不出现在结果中
func (d *MongoDirectory) GetUsers(ctx context.Context, userIDs []primitive.ObjectID) (map[primitive.ObjectID]*Profile, error) {
	result := make(map[primitive.ObjectID]*Profile, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	cursor, err := d.users.Find(ctx, bson.M{"_id": bson.M{"$in": userIDs}}, options.Find().SetProjection(profileProjection))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var p Profile
		if err := cursor.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		result[p.ID] = &p
	}
	return result, cursor.Err()
}

// AddJoinedGroup $addToSet，重复调用无副作用
func (d *MongoDirectory) AddJoinedGroup(ctx context.Context, userID, groupID primitive.ObjectID) error {
	res, err := d.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$addToSet": bson.M{"joinedGroups": groupID}},
	)
	if err != nil {
		return fmt.Errorf("add joined group: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("User not found")
	}
	return nil
}

// RemoveJoinedGroup $pull，重复调用无副作用
func (d *MongoDirectory) RemoveJoinedGroup(ctx context.Context, userID, groupID primitive.ObjectID) error {
	_, err := d.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$pull": bson.M{"joinedGroups": groupID}},
	)
	if err != nil {
		return fmt.Errorf("remove joined group: %w", err)
	}
	return nil
}

// JoinedGroups 用户已加入的群组
func (d *MongoDirectory) JoinedGroups(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	var doc struct {
		JoinedGroups []primitive.ObjectID `bson:"joinedGroups"`
	}
	err := d.users.FindOne(ctx, bson.M{"_id": userID}, options.FindOne().SetProjection(bson.M{"joinedGroups": 1})).Decode(&doc)
	if database.IsNotFound(err) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find joined groups: %w", err)
	}
	return doc.JoinedGroups, nil
}
