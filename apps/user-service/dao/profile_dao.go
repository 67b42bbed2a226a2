package dao

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trekmate/apps/user-service/model"
	"trekmate/pkg/apperr"
	"trekmate/pkg/database"
	"trekmate/pkg/userdir"
)

// profileDAO users 集合
type profileDAO struct {
	users *mongo.Collection
}

// NewProfileDAO 创建资料DAO实例
func NewProfileDAO(db *database.MongoDB) ProfileDAO {
	return &profileDAO{users: db.GetCollection(database.CollectionUsers)}
}

// EnsureProfileIndexes 用户名唯一且不区分大小写，未设置用户名的文档不参与
func EnsureProfileIndexes(ctx context.Context, db *database.MongoDB) error {
	_, err := db.GetCollection(database.CollectionUsers).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().
			SetName("uniq_username").
			SetUnique(true).
			SetSparse(true).
			SetCollation(&options.Collation{Locale: "en", Strength: 2}),
	})
	if err != nil {
		return fmt.Errorf("create username index: %w", err)
	}
	return nil
}

// UpdateProfile $set 后返回新文档
func (d *profileDAO) UpdateProfile(ctx context.Context, userID primitive.ObjectID, req *model.UpdateProfileRequest) (*userdir.Profile, error) {
	set := bson.M{}
	if req.FullName != nil {
		set["fullName"] = *req.FullName
	}
	if req.Username != nil {
		set["username"] = *req.Username
	}
	if req.ProfilePicture != nil {
		set["profilePicture"] = *req.ProfilePicture
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"fullName": 1, "username": 1, "gender": 1, "age": 1, "profilePicture": 1})
	var p userdir.Profile
	err := d.users.FindOneAndUpdate(ctx, bson.M{"_id": userID}, bson.M{"$set": set}, opts).Decode(&p)
	switch {
	case database.IsNotFound(err):
		return nil, apperr.NotFound("User not found")
	case mongo.IsDuplicateKeyError(err):
		return nil, apperr.Conflict(model.MsgUsernameTaken)
	case err != nil:
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return &p, nil
}
