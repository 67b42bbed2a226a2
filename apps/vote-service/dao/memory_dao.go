package dao

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/vote-service/model"
	"trekmate/pkg/apperr"
)

type itemKey struct {
	target model.Target
	id     primitive.ObjectID
}

// MemoryVoteDAO 内存实现，STORAGE_DRIVER=memory 与测试使用
type MemoryVoteDAO struct {
	mu    sync.Mutex
	items map[itemKey]*model.Votable
	// beforeApply 测试钩子：条件判断前调用，用于模拟并发投票
	beforeApply func(target model.Target, id primitive.ObjectID)
}

func NewMemoryVoteDAO() *MemoryVoteDAO {
	return &MemoryVoteDAO{items: make(map[itemKey]*model.Votable)}
}

// Put 写入帖子或评论
func (d *MemoryVoteDAO) Put(target model.Target, v *model.Votable) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v.ID.IsZero() {
		v.ID = primitive.NewObjectID()
	}
	d.items[itemKey{target, v.ID}] = clone(v)
}

// SetBeforeApply 设置写前钩子，钩子内可调用 Mutate
func (d *MemoryVoteDAO) SetBeforeApply(fn func(target model.Target, id primitive.ObjectID)) {
	d.mu.Lock()
	d.beforeApply = fn
	d.mu.Unlock()
}

// Mutate 直接修改对象，测试模拟其他请求的写入
func (d *MemoryVoteDAO) Mutate(target model.Target, id primitive.ObjectID, fn func(v *model.Votable)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.items[itemKey{target, id}]; ok {
		fn(v)
	}
}

func (d *MemoryVoteDAO) Get(ctx context.Context, target model.Target, id primitive.ObjectID) (*model.Votable, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.items[itemKey{target, id}]
	if !ok {
		return nil, apperr.NotFound(target.NotFoundMessage())
	}
	return clone(v), nil
}

func (d *MemoryVoteDAO) Apply(ctx context.Context, target model.Target, id, voter primitive.ObjectID, dir model.Direction, outcome model.Outcome) (bool, error) {
	d.mu.Lock()
	hook := d.beforeApply
	d.mu.Unlock()
	if hook != nil {
		hook(target, id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.items[itemKey{target, id}]
	if !ok || v.Plan(voter, dir) != outcome {
		return false, nil
	}
	v.Apply(voter, dir, outcome)
	return true, nil
}

func clone(v *model.Votable) *model.Votable {
	return &model.Votable{
		ID:        v.ID,
		Upvotes:   append(model.VoterSet(nil), v.Upvotes...),
		Downvotes: append(model.VoterSet(nil), v.Downvotes...),
	}
}
