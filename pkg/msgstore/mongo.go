package msgstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trekmate/pkg/apperr"
	"trekmate/pkg/database"
)

// GroupSequencer 在群文档上 $inc messageSeq，同时刷新 lastActivity
type GroupSequencer struct {
	groups *mongo.Collection
}

func NewGroupSequencer(db *database.MongoDB) *GroupSequencer {
	return &GroupSequencer{groups: db.GetCollection(database.CollectionGroups)}
}

// NextSeq 原子分配序号
func (s *GroupSequencer) NextSeq(ctx context.Context, groupID primitive.ObjectID, at time.Time) (int64, error) {
	var doc struct {
		MessageSeq int64 `bson:"messageSeq"`
	}
	err := s.groups.FindOneAndUpdate(ctx,
		bson.M{"_id": groupID},
		bson.M{
			"$inc": bson.M{"messageSeq": 1},
			"$set": bson.M{"lastActivity": at},
		},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"messageSeq": 1}),
	).Decode(&doc)
	if database.IsNotFound(err) {
		return 0, apperr.NotFound("Group not found")
	}
	if err != nil {
		return 0, fmt.Errorf("allocate message seq: %w", err)
	}
	return doc.MessageSeq, nil
}

// MongoStore messages 集合
type MongoStore struct {
	messages *mongo.Collection
	seq      Sequencer
}

// NewMongoStore 序号由群文档分配
func NewMongoStore(db *database.MongoDB) *MongoStore {
	return &MongoStore{
		messages: db.GetCollection(database.CollectionMessages),
		seq:      NewGroupSequencer(db),
	}
}

// EnsureIndexes 群内按时间倒序分页
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "group", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "seq", Value: -1}}},
		{Keys: bson.D{{Key: "group", Value: 1}, {Key: "seq", Value: 1}}},
	})
	return err
}

func (s *MongoStore) Append(ctx context.Context, m *Message) error {
	now := time.Now().UTC()
	seq, err := s.seq.NextSeq(ctx, m.Group, now)
	if err != nil {
		return err
	}
	stamp(m, seq, now)

	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id primitive.ObjectID) (*Message, error) {
	var m Message
	err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if database.IsNotFound(err) {
		return nil, apperr.NotFound("Message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return &m, nil
}

func (s *MongoStore) GetMany(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*Message, error) {
	result := make(map[primitive.ObjectID]*Message, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	msgs, err := s.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		result[m.ID] = m
	}
	return result, nil
}

func (s *MongoStore) List(ctx context.Context, groupID primitive.ObjectID, page, limit int) ([]*Message, error) {
	page, limit = normalizePage(page, limit)
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "seq", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	msgs, err := s.find(ctx, bson.M{"group": groupID}, opts)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

func (s *MongoStore) Latest(ctx context.Context, groupID primitive.ObjectID) (*Message, error) {
	msgs, err := s.List(ctx, groupID, 1, 1)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return msgs[0], nil
}

func (s *MongoStore) UpdateContent(ctx context.Context, id primitive.ObjectID, content string, at time.Time) (*Message, error) {
	var m Message
	err := s.messages.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "isSystemMessage": false},
		bson.M{"$set": bson.M{"content": content, "isEdited": true, "updatedAt": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if database.IsNotFound(err) {
		return nil, apperr.NotFound("Message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return &m, nil
}

func (s *MongoStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return apperr.NotFound("Message not found")
	}
	return nil
}

// MarkRead 过滤条件排除已读用户，重复调用不会产生第二条回执
func (s *MongoStore) MarkRead(ctx context.Context, id, userID primitive.ObjectID, at time.Time) (*Message, bool, error) {
	var m Message
	err := s.messages.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "readBy.user": bson.M{"$ne": userID}},
		bson.M{"$push": bson.M{"readBy": ReadReceipt{User: userID, ReadAt: at}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return &m, true, nil
	}
	if !database.IsNotFound(err) {
		return nil, false, fmt.Errorf("mark read: %w", err)
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*Message, error) {
	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var msgs []*Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

func stamp(m *Message, seq int64, now time.Time) {
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	m.Seq = seq
	m.CreatedAt = now
	m.UpdatedAt = now
	for i := range m.ReadBy {
		if m.ReadBy[i].ReadAt.IsZero() {
			m.ReadBy[i].ReadAt = now
		}
	}
}
