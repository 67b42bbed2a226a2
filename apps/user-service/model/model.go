package model

import (
	"strings"
	"unicode/utf8"

	"trekmate/pkg/apperr"
)

// 资料字段长度限制
const (
	MaxFullNameLength = 60
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MaxPictureLength  = 512
)

// 错误消息
const (
	MsgInvalidUserID   = "Invalid user ID"
	MsgInvalidBody     = "Invalid request body"
	MsgNothingToUpdate = "No profile fields to update"
	MsgInvalidFullName = "Full name must be 1-60 characters"
	MsgInvalidUsername = "Username must be 3-30 letters, digits, dots or underscores"
	MsgInvalidPicture  = "Profile picture URL is too long"
	MsgUsernameTaken   = "Username is already taken"
)

// UpdateProfileRequest 只更新显式给出的字段，nil 表示保持不变
type UpdateProfileRequest struct {
	FullName       *string `json:"fullName"`
	Username       *string `json:"username"`
	ProfilePicture *string `json:"profilePicture"`
}

// Normalize 去除首尾空白并校验，至少需要一个字段
func (r *UpdateProfileRequest) Normalize() error {
	if r.FullName == nil && r.Username == nil && r.ProfilePicture == nil {
		return apperr.BadRequest(MsgNothingToUpdate)
	}
	if r.FullName != nil {
		v := strings.TrimSpace(*r.FullName)
		if n := utf8.RuneCountInString(v); n == 0 || n > MaxFullNameLength {
			return apperr.BadRequest(MsgInvalidFullName)
		}
		r.FullName = &v
	}
	if r.Username != nil {
		v := strings.TrimSpace(*r.Username)
		if !validUsername(v) {
			return apperr.BadRequest(MsgInvalidUsername)
		}
		r.Username = &v
	}
	if r.ProfilePicture != nil {
		v := strings.TrimSpace(*r.ProfilePicture)
		if len(v) > MaxPictureLength {
			return apperr.BadRequest(MsgInvalidPicture)
		}
		r.ProfilePicture = &v
	}
	return nil
}

func validUsername(s string) bool {
	if len(s) < MinUsernameLength || len(s) > MaxUsernameLength {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '_':
		default:
			return false
		}
	}
	return true
}
