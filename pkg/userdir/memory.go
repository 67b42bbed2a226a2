package userdir

import (
	"context"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/pkg/apperr"
)

// MemoryDirectory 内存实现，本地调试与测试使用
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[primitive.ObjectID]*Profile
	joined   map[primitive.ObjectID]map[primitive.ObjectID]struct{}
	// IndexErr 非nil时 AddJoinedGroup/RemoveJoinedGroup 返回该错误
	IndexErr error
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		profiles: make(map[primitive.ObjectID]*Profile),
		joined:   make(map[primitive.ObjectID]map[primitive.ObjectID]struct{}),
	}
}

// Put 写入或覆盖资料
func (d *MemoryDirectory) Put(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := p
	d.profiles[p.ID] = &cp
}

// SetIndexErr 并发安全地设置索引写入故障
func (d *MemoryDirectory) SetIndexErr(err error) {
	d.mu.Lock()
	d.IndexErr = err
	d.mu.Unlock()
}

func (d *MemoryDirectory) GetUser(ctx context.Context, userID primitive.ObjectID) (*Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[userID]
	if !ok {
		return nil, apperr.NotFound("User not found")
	}
	cp := *p
	return &cp, nil
}

func (d *MemoryDirectory) GetUsers(ctx context.Context, userIDs []primitive.ObjectID) (map[primitive.ObjectID]*Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make(map[primitive.ObjectID]*Profile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := d.profiles[id]; ok {
			cp := *p
			result[id] = &cp
		}
	}
	return result, nil
}

func (d *MemoryDirectory) AddJoinedGroup(ctx context.Context, userID, groupID primitive.ObjectID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.IndexErr != nil {
		return d.IndexErr
	}
	if _, ok := d.profiles[userID]; !ok {
		return apperr.NotFound("User not found")
	}
	set, ok := d.joined[userID]
	if !ok {
		set = make(map[primitive.ObjectID]struct{})
		d.joined[userID] = set
	}
	set[groupID] = struct{}{}
	return nil
}

func (d *MemoryDirectory) RemoveJoinedGroup(ctx context.Context, userID, groupID primitive.ObjectID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.IndexErr != nil {
		return d.IndexErr
	}
	delete(d.joined[userID], groupID)
	return nil
}

func (d *MemoryDirectory) JoinedGroups(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.profiles[userID]; !ok {
		return nil, apperr.NotFound("User not found")
	}
	ids := make([]primitive.ObjectID, 0, len(d.joined[userID]))
	for id := range d.joined[userID] {
		ids = append(ids, id)
	}
	return ids, nil
}

// HasJoined 测试辅助
func (d *MemoryDirectory) HasJoined(userID, groupID primitive.ObjectID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.joined[userID][groupID]
	return ok
}

// FindByUsername 按用户名查找，不区分大小写
func (d *MemoryDirectory) FindByUsername(username string) (*Profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.profiles {
		if p.Username != "" && strings.EqualFold(p.Username, username) {
			cp := *p
			return &cp, true
		}
	}
	return nil, false
}
