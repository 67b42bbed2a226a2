package userdir

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/pkg/logger"
	"trekmate/pkg/redis"
)

const profileKeyPrefix = "userdir:profile:"

// CachedDirectory 资料读取走Redis缓存，反向索引直接透传
type CachedDirectory struct {
	next  Directory
	redis *redis.RedisClient
	ttl   time.Duration
	log   logger.Logger
}

func NewCachedDirectory(next Directory, client *redis.RedisClient, ttl time.Duration, log logger.Logger) *CachedDirectory {
	return &CachedDirectory{next: next, redis: client, ttl: ttl, log: log}
}

func profileKey(id primitive.ObjectID) string {
	return profileKeyPrefix + id.Hex()
}

// GetUser 先查缓存，缓存故障时降级为直接查询
func (d *CachedDirectory) GetUser(ctx context.Context, userID primitive.ObjectID) (*Profile, error) {
	if p, ok := d.lookup(ctx, userID); ok {
		return p, nil
	}
	p, err := d.next.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	d.store(ctx, p)
	return p, nil
}

// GetUsers 只查询缓存未命中的部分
func (d *CachedDirectory) GetUsers(ctx context.Context, userIDs []primitive.ObjectID) (map[primitive.ObjectID]*Profile, error) {
	result := make(map[primitive.ObjectID]*Profile, len(userIDs))
	var missing []primitive.ObjectID
	for _, id := range userIDs {
		if p, ok := d.lookup(ctx, id); ok {
			result[id] = p
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := d.next.GetUsers(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, p := range fetched {
		result[id] = p
		d.store(ctx, p)
	}
	return result, nil
}

func (d *CachedDirectory) AddJoinedGroup(ctx context.Context, userID, groupID primitive.ObjectID) error {
	return d.next.AddJoinedGroup(ctx, userID, groupID)
}

func (d *CachedDirectory) RemoveJoinedGroup(ctx context.Context, userID, groupID primitive.ObjectID) error {
	return d.next.RemoveJoinedGroup(ctx, userID, groupID)
}

func (d *CachedDirectory) JoinedGroups(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	return d.next.JoinedGroups(ctx, userID)
}

// Invalidate 资料变更后清除缓存
func (d *CachedDirectory) Invalidate(ctx context.Context, userID primitive.ObjectID) error {
	return d.redis.Del(ctx, profileKey(userID))
}

func (d *CachedDirectory) lookup(ctx context.Context, id primitive.ObjectID) (*Profile, bool) {
	raw, err := d.redis.Get(ctx, profileKey(id))
	if err != nil {
		if !redis.IsNil(err) {
			d.log.Warn(ctx, "Profile cache read failed", logger.F("user_id", id.Hex()), logger.F("error", err))
		}
		return nil, false
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (d *CachedDirectory) store(ctx context.Context, p *Profile) {
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := d.redis.Set(ctx, profileKey(p.ID), b, d.ttl); err != nil {
		d.log.Warn(ctx, "Profile cache write failed", logger.F("user_id", p.ID.Hex()), logger.F("error", err))
	}
}
