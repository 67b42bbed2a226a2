package dao

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/user-service/model"
	"trekmate/pkg/apperr"
	"trekmate/pkg/userdir"
)

// MemoryProfileDAO 写入内存目录，本地调试与测试使用
type MemoryProfileDAO struct {
	mu    sync.Mutex
	users *userdir.MemoryDirectory
}

// NewMemoryProfileDAO 与读取方共用同一个内存目录
func NewMemoryProfileDAO(users *userdir.MemoryDirectory) *MemoryProfileDAO {
	return &MemoryProfileDAO{users: users}
}

func (d *MemoryProfileDAO) UpdateProfile(ctx context.Context, userID primitive.ObjectID, req *model.UpdateProfileRequest) (*userdir.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if req.Username != nil {
		if other, ok := d.users.FindByUsername(*req.Username); ok && other.ID != userID {
			return nil, apperr.Conflict(model.MsgUsernameTaken)
		}
		p.Username = *req.Username
	}
	if req.FullName != nil {
		p.FullName = *req.FullName
	}
	if req.ProfilePicture != nil {
		p.ProfilePicture = *req.ProfilePicture
	}
	d.users.Put(*p)
	return p, nil
}
