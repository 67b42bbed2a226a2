package dao

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/user-service/model"
	"trekmate/pkg/userdir"
)

// ProfileDAO 资料写入。读取走 userdir.Directory
type ProfileDAO interface {
	// UpdateProfile 应用非nil字段，返回更新后的资料
	UpdateProfile(ctx context.Context, userID primitive.ObjectID, req *model.UpdateProfileRequest) (*userdir.Profile, error)
}
