package msgstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/pkg/apperr"
)

// counterSequencer 无群存储时的本地序号
type counterSequencer struct {
	mu   sync.Mutex
	seqs map[primitive.ObjectID]int64
}

func (c *counterSequencer) NextSeq(ctx context.Context, groupID primitive.ObjectID, at time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs[groupID]++
	return c.seqs[groupID], nil
}

// MemoryStore 内存实现，本地调试与测试使用
type MemoryStore struct {
	mu       sync.RWMutex
	seq      Sequencer
	messages map[primitive.ObjectID]*Message
	// AppendErr 非nil时 Append 返回该错误
	AppendErr error
	// now 测试可替换
	now func() time.Time
}

// NewMemoryStore seq 为nil时使用本地计数器
func NewMemoryStore(seq Sequencer) *MemoryStore {
	if seq == nil {
		seq = &counterSequencer{seqs: make(map[primitive.ObjectID]int64)}
	}
	return &MemoryStore{
		seq:      seq,
		messages: make(map[primitive.ObjectID]*Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 固定时钟
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetAppendErr 并发安全地注入写入故障
func (s *MemoryStore) SetAppendErr(err error) {
	s.mu.Lock()
	s.AppendErr = err
	s.mu.Unlock()
}

func (s *MemoryStore) Append(ctx context.Context, m *Message) error {
	s.mu.RLock()
	failure, now := s.AppendErr, s.now()
	s.mu.RUnlock()
	if failure != nil {
		return failure
	}

	seq, err := s.seq.NextSeq(ctx, m.Group, now)
	if err != nil {
		return err
	}
	stamp(m, seq, now)

	s.mu.Lock()
	s.messages[m.ID] = clone(m)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id primitive.ObjectID) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.NotFound("Message not found")
	}
	return clone(m), nil
}

func (s *MemoryStore) GetMany(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[primitive.ObjectID]*Message, len(ids))
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			result[id] = clone(m)
		}
	}
	return result, nil
}

func (s *MemoryStore) List(ctx context.Context, groupID primitive.ObjectID, page, limit int) ([]*Message, error) {
	page, limit = normalizePage(page, limit)

	s.mu.RLock()
	var all []*Message
	for _, m := range s.messages {
		if m.Group == groupID {
			all = append(all, clone(m))
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].Seq > all[j].Seq
	})

	skip := (page - 1) * limit
	if skip >= len(all) {
		return []*Message{}, nil
	}
	end := skip + limit
	if end > len(all) {
		end = len(all)
	}
	out := all[skip:end]
	reverse(out)
	return out, nil
}

func (s *MemoryStore) Latest(ctx context.Context, groupID primitive.ObjectID) (*Message, error) {
	msgs, err := s.List(ctx, groupID, 1, 1)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return msgs[0], nil
}

func (s *MemoryStore) UpdateContent(ctx context.Context, id primitive.ObjectID, content string, at time.Time) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.IsSystemMessage {
		return nil, apperr.NotFound("Message not found")
	}
	m.Content = content
	m.IsEdited = true
	m.UpdatedAt = at
	return clone(m), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return apperr.NotFound("Message not found")
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, id, userID primitive.ObjectID, at time.Time) (*Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, false, apperr.NotFound("Message not found")
	}
	if m.HasRead(userID) {
		return clone(m), false, nil
	}
	m.ReadBy = append(m.ReadBy, ReadReceipt{User: userID, ReadAt: at})
	return clone(m), true, nil
}

// Count 测试辅助：群内消息数
func (s *MemoryStore) Count(groupID primitive.ObjectID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.Group == groupID {
			n++
		}
	}
	return n
}

func clone(m *Message) *Message {
	cp := *m
	cp.ReadBy = append([]ReadReceipt(nil), m.ReadBy...)
	cp.Attachments = append([]Attachment(nil), m.Attachments...)
	if m.ReplyTo != nil {
		id := *m.ReplyTo
		cp.ReplyTo = &id
	}
	return &cp
}
