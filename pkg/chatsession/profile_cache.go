package chatsession

import "sync"

// Profile 成员展示资料
type Profile struct {
	FullName       string
	ProfilePicture string
}

// ProfileCache 按用户ID缓存展示资料，收到资料变更事件时失效
type ProfileCache struct {
	mu      sync.RWMutex
	entries map[string]Profile
}

func NewProfileCache() *ProfileCache {
	return &ProfileCache{entries: make(map[string]Profile)}
}

// Get 命中返回true
func (c *ProfileCache) Get(userID string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[userID]
	return p, ok
}

// Put 写入或覆盖
func (c *ProfileCache) Put(userID string, p Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = p
}

// PutIfAbsent 已缓存的条目保持不变，返回最终生效的资料
func (c *ProfileCache) PutIfAbsent(userID string, p Profile) Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[userID]; ok {
		return cur
	}
	c.entries[userID] = p
	return p
}

func (c *ProfileCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
