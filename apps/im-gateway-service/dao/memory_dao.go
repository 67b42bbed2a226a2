package dao

import (
	"context"
	"sync"
	"time"
)

// MemoryPresenceDAO 内存实现，不处理过期
type MemoryPresenceDAO struct {
	mu       sync.Mutex
	sessions map[string]map[string]string
}

func NewMemoryPresenceDAO() *MemoryPresenceDAO {
	return &MemoryPresenceDAO{sessions: make(map[string]map[string]string)}
}

func (d *MemoryPresenceDAO) Online(ctx context.Context, userID, sessionID, instanceID string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[userID]
	if !ok {
		s = make(map[string]string)
		d.sessions[userID] = s
	}
	s[sessionID] = instanceID
	return nil
}

func (d *MemoryPresenceDAO) Offline(ctx context.Context, userID, sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[userID]; ok {
		delete(s, sessionID)
		if len(s) == 0 {
			delete(d.sessions, userID)
		}
	}
	return nil
}

func (d *MemoryPresenceDAO) Sessions(ctx context.Context, userID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions[userID]), nil
}
