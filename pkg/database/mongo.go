package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"trekmate/pkg/config"
)

// 各服务共享的集合
const (
	CollectionGroups   = "groups"
	CollectionMessages = "messages"
	CollectionUsers    = "users"
	CollectionPosts    = "posts"
	CollectionComments = "comments"
)

const mongoConnectTimeout = 10 * time.Second

// MongoDB 群组、消息、用户目录和投票所在的库
type MongoDB struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoDB 连接并确认主节点可达
func NewMongoDB(cfg config.MongoDBConfig, appName string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName(appName).
		SetServerSelectionTimeout(mongoConnectTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &MongoDB{client: client, db: client.Database(cfg.DBName)}, nil
}

// GetCollection 获取集合
func (m *MongoDB) GetCollection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// EnsureIndexes 同名同定义的索引已存在时为空操作
func (m *MongoDB) EnsureIndexes(ctx context.Context, collection string, models ...mongo.IndexModel) error {
	if len(models) == 0 {
		return nil
	}
	if _, err := m.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
	}
	return nil
}

// IsNotFound FindOne 未命中
func IsNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// Close 断开连接
func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
