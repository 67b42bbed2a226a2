package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"trekmate/pkg/config"
)

// Nil 键不存在
const Nil = redis.Nil

// Pipeliner 事务管道
type Pipeliner = redis.Pipeliner

// RedisClient 资料缓存、在线状态和实时事件频道共用一个连接池
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient 懒连接，首次命令时才建立连接
func NewRedisClient(cfg config.RedisConfig) *RedisClient {
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}),
	}
}

// IsNil 是否为键不存在
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Ping 检查连接
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Set 写入并设置过期时间，ttl为0表示不过期
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Get 键不存在时返回 Nil
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

// TxPipelined MULTI/EXEC 中执行fn排入的命令
func (r *RedisClient) TxPipelined(ctx context.Context, fn func(Pipeliner) error) error {
	_, err := r.client.TxPipelined(ctx, fn)
	return err
}

func (r *RedisClient) HDel(ctx context.Context, key string, fields ...string) error {
	return r.client.HDel(ctx, key, fields...).Err()
}

func (r *RedisClient) HLen(ctx context.Context, key string) (int64, error) {
	return r.client.HLen(ctx, key).Result()
}

func (r *RedisClient) SRem(ctx context.Context, key string, members ...interface{}) error {
	return r.client.SRem(ctx, key, members...).Err()
}

// Publish 发布到频道
func (r *RedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Subscribe 不传频道时得到空订阅，之后可继续Subscribe/Unsubscribe
func (r *RedisClient) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return r.client.Subscribe(ctx, channels...)
}

// Close 关闭连接池
func (r *RedisClient) Close() error {
	return r.client.Close()
}
