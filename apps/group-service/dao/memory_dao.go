package dao

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/group-service/model"
	"trekmate/pkg/apperr"
	"trekmate/pkg/userdir"
)

// MemoryGroupDAO 内存实现，STORAGE_DRIVER=memory 与测试使用。
// 每个条件更新在同一把锁内判断并修改，语义与Mongo过滤条件一致
type MemoryGroupDAO struct {
	mu     sync.Mutex
	groups map[primitive.ObjectID]*model.Group
	// beforeWrite 测试钩子：条件判断前调用，用于模拟并发修改
	beforeWrite func(groupID primitive.ObjectID)
}

// NewMemoryGroupDAO 创建内存DAO
func NewMemoryGroupDAO() *MemoryGroupDAO {
	return &MemoryGroupDAO{groups: make(map[primitive.ObjectID]*model.Group)}
}

// SetBeforeWrite 设置写前钩子，钩子内可调用 Mutate
func (d *MemoryGroupDAO) SetBeforeWrite(fn func(groupID primitive.ObjectID)) {
	d.mu.Lock()
	d.beforeWrite = fn
	d.mu.Unlock()
}

// Mutate 直接修改群文档，测试模拟其他请求的写入
func (d *MemoryGroupDAO) Mutate(groupID primitive.ObjectID, fn func(g *model.Group)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g, ok := d.groups[groupID]; ok {
		fn(g)
	}
}

// NextSeq 实现 msgstore.Sequencer
func (d *MemoryGroupDAO) NextSeq(ctx context.Context, groupID primitive.ObjectID, at time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[groupID]
	if !ok {
		return 0, apperr.NotFound(model.MsgGroupNotFound)
	}
	g.MessageSeq++
	g.LastActivity = at
	return g.MessageSeq, nil
}

func (d *MemoryGroupDAO) CreateGroup(ctx context.Context, group *model.Group) error {
	if group.ID.IsZero() {
		group.ID = primitive.NewObjectID()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[group.ID] = group.Clone()
	return nil
}

func (d *MemoryGroupDAO) DeleteGroup(ctx context.Context, groupID primitive.ObjectID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.groups, groupID)
	return nil
}

func (d *MemoryGroupDAO) GetGroup(ctx context.Context, groupID primitive.ObjectID) (*model.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[groupID]
	if !ok {
		return nil, apperr.NotFound(model.MsgGroupNotFound)
	}
	return g.Clone(), nil
}

func (d *MemoryGroupDAO) ListGroups(ctx context.Context, q model.ListQuery) ([]*model.Group, int64, error) {
	d.mu.Lock()
	var matched []*model.Group
	search := strings.ToLower(q.Search)
	for _, g := range d.groups {
		if g.IsOpen != q.IsOpen {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(g.Name), search) &&
			!strings.Contains(strings.ToLower(g.TrekRoute), search) {
			continue
		}
		start := g.TrekDetails.StartDate
		if q.StartDateFrom != nil && start.Before(*q.StartDateFrom) {
			continue
		}
		if q.StartDateTo != nil && start.After(*q.StartDateTo) {
			continue
		}
		matched = append(matched, g.Clone())
	}
	d.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		less := lessBy(q.SortBy, matched[i], matched[j])
		if q.SortAsc {
			return less
		}
		return lessBy(q.SortBy, matched[j], matched[i])
	})

	total := int64(len(matched))
	skip := (q.Page - 1) * q.Limit
	if skip >= len(matched) {
		return []*model.Group{}, total, nil
	}
	end := skip + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[skip:end], total, nil
}

func lessBy(field string, a, b *model.Group) bool {
	switch field {
	case "name":
		if a.Name != b.Name {
			return a.Name < b.Name
		}
	case "lastActivity":
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.Before(b.LastActivity)
		}
	case "startDate":
		if !a.TrekDetails.StartDate.Equal(b.TrekDetails.StartDate) {
			return a.TrekDetails.StartDate.Before(b.TrekDetails.StartDate)
		}
	default:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	return a.ID.Hex() < b.ID.Hex()
}

func (d *MemoryGroupDAO) GetUserGroups(ctx context.Context, userID primitive.ObjectID) ([]*model.Group, error) {
	d.mu.Lock()
	groups := make([]*model.Group, 0)
	for _, g := range d.groups {
		if g.IsMember(userID) {
			groups = append(groups, g.Clone())
		}
	}
	d.mu.Unlock()

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].LastActivity.After(groups[j].LastActivity)
	})
	return groups, nil
}

func (d *MemoryGroupDAO) UpdateGroup(ctx context.Context, groupID, requester primitive.ObjectID, update *model.GroupUpdate, at time.Time) (*model.Group, error) {
	return d.conditional(groupID, func(g *model.Group) bool {
		if !g.IsAdmin(requester) {
			return false
		}
		update.Apply(g)
		if !g.TrekDetails.AgeRangeValid() {
			return false
		}
		g.UpdatedAt = at
		return true
	})
}

func (d *MemoryGroupDAO) AddMember(ctx context.Context, groupID primitive.ObjectID, user *userdir.Profile, at time.Time) (*model.Group, error) {
	return d.conditional(groupID, func(g *model.Group) bool {
		if g.CheckJoin(user) != nil {
			return false
		}
		g.Members = append(g.Members, model.Member{User: user.ID, Role: model.RoleMember, JoinedAt: at})
		g.LastActivity = at
		g.UpdatedAt = at
		return true
	})
}

func (d *MemoryGroupDAO) LeaveGroup(ctx context.Context, groupID, userID primitive.ObjectID, at time.Time) (*model.Group, error) {
	return d.conditional(groupID, func(g *model.Group) bool {
		if g.CheckLeave(userID) != nil {
			return false
		}
		pull(g, userID)
		g.LastActivity = at
		g.UpdatedAt = at
		return true
	})
}

func (d *MemoryGroupDAO) PromoteMember(ctx context.Context, groupID, requester, target primitive.ObjectID, at time.Time) (*model.Group, error) {
	return d.conditional(groupID, func(g *model.Group) bool {
		if g.CheckPromote(requester, target) != nil {
			return false
		}
		m, _ := g.FindMember(target)
		m.Role = model.RoleAdmin
		g.UpdatedAt = at
		return true
	})
}

func (d *MemoryGroupDAO) RemoveMember(ctx context.Context, groupID, requester, target primitive.ObjectID, at time.Time) (*model.Group, error) {
	return d.conditional(groupID, func(g *model.Group) bool {
		if g.CheckRemove(requester, target) != nil {
			return false
		}
		pull(g, target)
		g.LastActivity = at
		g.UpdatedAt = at
		return true
	})
}

func (d *MemoryGroupDAO) RestoreMember(ctx context.Context, groupID primitive.ObjectID, member model.Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g, ok := d.groups[groupID]; ok && !g.IsMember(member.User) {
		g.Members = append(g.Members, member)
	}
	return nil
}

func (d *MemoryGroupDAO) PullMember(ctx context.Context, groupID, userID primitive.ObjectID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g, ok := d.groups[groupID]; ok {
		pull(g, userID)
	}
	return nil
}

func (d *MemoryGroupDAO) PinMessage(ctx context.Context, groupID, requester, messageID primitive.ObjectID, at time.Time) (*model.Group, error) {
	return d.conditional(groupID, func(g *model.Group) bool {
		if !g.IsAdmin(requester) {
			return false
		}
		if !g.IsPinned(messageID) {
			g.Pinned = append(g.Pinned, messageID)
		}
		g.UpdatedAt = at
		return true
	})
}

func (d *MemoryGroupDAO) UnpinMessage(ctx context.Context, groupID, requester, messageID primitive.ObjectID, at time.Time) (*model.Group, error) {
	return d.conditional(groupID, func(g *model.Group) bool {
		if !g.IsAdmin(requester) {
			return false
		}
		kept := g.Pinned[:0]
		for _, id := range g.Pinned {
			if id != messageID {
				kept = append(kept, id)
			}
		}
		g.Pinned = kept
		g.UpdatedAt = at
		return true
	})
}

// conditional apply 返回false表示条件不满足，不做任何修改
func (d *MemoryGroupDAO) conditional(groupID primitive.ObjectID, apply func(g *model.Group) bool) (*model.Group, error) {
	d.mu.Lock()
	hook := d.beforeWrite
	d.mu.Unlock()
	if hook != nil {
		hook(groupID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[groupID]
	if !ok {
		return nil, ErrConditionFailed
	}
	work := g.Clone()
	if !apply(work) {
		return nil, ErrConditionFailed
	}
	d.groups[groupID] = work
	return work.Clone(), nil
}

func pull(g *model.Group, userID primitive.ObjectID) {
	kept := g.Members[:0]
	for _, m := range g.Members {
		if m.User != userID {
			kept = append(kept, m)
		}
	}
	g.Members = kept
}
