package userdir

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultProfilePicture 用户未上传头像时的默认值
const DefaultProfilePicture = "default-profile.jpg"

// Profile 用户目录中与群组相关的资料
type Profile struct {
	ID             primitive.ObjectID `bson:"_id" json:"_id"`
	FullName       string             `bson:"fullName" json:"fullName"`
	Username       string             `bson:"username,omitempty" json:"username,omitempty"`
	Gender         string             `bson:"gender,omitempty" json:"gender,omitempty"`
	Age            int                `bson:"age,omitempty" json:"age,omitempty"`
	ProfilePicture string             `bson:"profilePicture,omitempty" json:"profilePicture,omitempty"`
}

// DisplayName 优先用户名，其次全名
func (p *Profile) DisplayName() string {
	if p == nil {
		return "Unknown user"
	}
	if p.Username != "" {
		return p.Username
	}
	if p.FullName != "" {
		return p.FullName
	}
	return "Unknown user"
}

// Avatar 头像，缺省时为默认头像
func (p *Profile) Avatar() string {
	if p == nil || p.ProfilePicture == "" {
		return DefaultProfilePicture
	}
	return p.ProfilePicture
}

// Directory 用户目录，也维护用户已加入群组的反向索引
type Directory interface {
	GetUser(ctx context.Context, userID primitive.ObjectID) (*Profile, error)
	GetUsers(ctx context.Context, userIDs []primitive.ObjectID) (map[primitive.ObjectID]*Profile, error)
	AddJoinedGroup(ctx context.Context, userID, groupID primitive.ObjectID) error
	RemoveJoinedGroup(ctx context.Context, userID, groupID primitive.ObjectID) error
	JoinedGroups(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error)
}
