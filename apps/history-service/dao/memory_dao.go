package dao

import (
	"context"
	"sort"
	"sync"

	"trekmate/apps/history-service/model"
)

type dedupeKey struct {
	groupID string
	event   string
	seq     int64
	at      int64
}

// MemoryActivityDAO 内存实现，本地调试与测试用
type MemoryActivityDAO struct {
	mu      sync.Mutex
	nextID  int64
	records []*model.ActivityRecord
	seen    map[dedupeKey]struct{}
	stats   map[string]map[string]*model.GroupEventStats
	err     error
}

// NewMemoryActivityDAO 创建内存DAO
func NewMemoryActivityDAO() *MemoryActivityDAO {
	return &MemoryActivityDAO{
		seen:  make(map[dedupeKey]struct{}),
		stats: make(map[string]map[string]*model.GroupEventStats),
	}
}

// FailWith 之后的写入返回该错误，nil恢复
func (d *MemoryActivityDAO) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *MemoryActivityDAO) Record(_ context.Context, record *model.ActivityRecord) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}

	key := dedupeKey{record.GroupID, record.Event, record.Seq, record.At.UnixNano()}
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	d.nextID++
	stored := *record
	stored.ID = d.nextID
	record.ID = stored.ID
	d.records = append(d.records, &stored)

	byEvent, ok := d.stats[record.GroupID]
	if !ok {
		byEvent = make(map[string]*model.GroupEventStats)
		d.stats[record.GroupID] = byEvent
	}
	st, ok := byEvent[record.Event]
	if !ok {
		st = &model.GroupEventStats{GroupID: record.GroupID, Event: record.Event}
		byEvent[record.Event] = st
	}
	st.TotalCount++
	if record.Seq > st.LastSeq {
		st.LastSeq = record.Seq
	}
	if record.At.After(st.LastAt) {
		st.LastAt = record.At
	}
	return true, nil
}

func (d *MemoryActivityDAO) List(_ context.Context, groupID string, page, limit int) ([]*model.ActivityRecord, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var matched []*model.ActivityRecord
	for _, r := range d.records {
		if r.GroupID == groupID {
			cp := *r
			matched = append(matched, &cp)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].At.Equal(matched[j].At) {
			return matched[i].At.After(matched[j].At)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	start := (page - 1) * limit
	if start >= len(matched) {
		return []*model.ActivityRecord{}, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (d *MemoryActivityDAO) Stats(_ context.Context, groupID string) ([]*model.GroupEventStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*model.GroupEventStats, 0, len(d.stats[groupID]))
	for _, st := range d.stats[groupID] {
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out, nil
}
