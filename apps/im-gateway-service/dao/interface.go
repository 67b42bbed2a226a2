package dao

import (
	"context"
	"time"
)

// PresenceDAO 在线会话登记，一个用户可有多个会话
type PresenceDAO interface {
	Online(ctx context.Context, userID, sessionID, instanceID string, ttl time.Duration) error
	Offline(ctx context.Context, userID, sessionID string) error
	Sessions(ctx context.Context, userID string) (int, error)
}
