package dao

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"trekmate/pkg/redis"
)

const onlineUsersKey = "online_users"

type presenceDAO struct {
	client *redis.RedisClient
}

// NewPresenceDAO 会话记录在 presence:{userID} 哈希中，字段为会话ID，值为 实例ID|心跳时间
func NewPresenceDAO(client *redis.RedisClient) PresenceDAO {
	return &presenceDAO{client: client}
}

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}

// Online 登记或续期会话
func (d *presenceDAO) Online(ctx context.Context, userID, sessionID, instanceID string, ttl time.Duration) error {
	key := presenceKey(userID)
	value := instanceID + "|" + strconv.FormatInt(time.Now().Unix(), 10)

	err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, sessionID, value)
		pipe.Expire(ctx, key, ttl)
		pipe.SAdd(ctx, onlineUsersKey, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}
	return nil
}

// Offline 移除会话，最后一个会话离开时从在线集合移除
func (d *presenceDAO) Offline(ctx context.Context, userID, sessionID string) error {
	key := presenceKey(userID)
	if err := d.client.HDel(ctx, key, sessionID); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	left, err := d.client.HLen(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to count sessions: %w", err)
	}
	if left == 0 {
		if err := d.client.SRem(ctx, onlineUsersKey, userID); err != nil {
			return fmt.Errorf("failed to clear online flag: %w", err)
		}
	}
	return nil
}

func (d *presenceDAO) Sessions(ctx context.Context, userID string) (int, error) {
	n, err := d.client.HLen(ctx, presenceKey(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return int(n), nil
}
