package dao

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/message-service/model"
	"trekmate/pkg/apperr"
)

type memoryGroup struct {
	roles map[primitive.ObjectID]string
	seq   int64
}

// MemoryMembershipDAO 内存实现，同时充当消息序号分配器。
// 群与成员只能通过 SetRole 写入，不会从群组服务同步；未写入的群一律返回 Group not found。
// 仅用于测试与单进程调试，独立部署的消息服务应使用 Mongo 存储。
type MemoryMembershipDAO struct {
	mu     sync.Mutex
	groups map[primitive.ObjectID]*memoryGroup
}

func NewMemoryMembershipDAO() *MemoryMembershipDAO {
	return &MemoryMembershipDAO{groups: make(map[primitive.ObjectID]*memoryGroup)}
}

// SetRole 写入成员角色，role 为空表示移出
func (d *MemoryMembershipDAO) SetRole(groupID, userID primitive.ObjectID, role string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[groupID]
	if !ok {
		g = &memoryGroup{roles: make(map[primitive.ObjectID]string)}
		d.groups[groupID] = g
	}
	if role == "" {
		delete(g.roles, userID)
		return
	}
	g.roles[userID] = role
}

func (d *MemoryMembershipDAO) GetMembership(ctx context.Context, groupID, userID primitive.ObjectID) (*model.Membership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[groupID]
	if !ok {
		return nil, apperr.NotFound(model.MsgGroupNotFound)
	}
	return &model.Membership{GroupID: groupID, Role: g.roles[userID]}, nil
}

// NextSeq 实现 msgstore.Sequencer
func (d *MemoryMembershipDAO) NextSeq(ctx context.Context, groupID primitive.ObjectID, at time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[groupID]
	if !ok {
		return 0, apperr.NotFound(model.MsgGroupNotFound)
	}
	g.seq++
	return g.seq, nil
}
