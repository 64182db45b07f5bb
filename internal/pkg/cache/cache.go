package cache

import (
	"sync"

	"github.com/3Eeeecho/go-chunkupload/internal/models"
)

// SessionCache 活跃上传会话的进程内缓存, 存取的都是副本
// 缓存丢失只影响性能, 随时可以从持久化存储重建
type SessionCache interface {
	Get(id string) (*models.UploadSession, bool)
	Set(session *models.UploadSession)
	Del(ids ...string)
	Len() int
}

type memorySessionCache struct {
	mu       sync.RWMutex
	sessions map[string]*models.UploadSession
}

func NewSessionCache() SessionCache {
	return &memorySessionCache{sessions: make(map[string]*models.UploadSession)}
}

func (c *memorySessionCache) Get(id string) (*models.UploadSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (c *memorySessionCache) Set(session *models.UploadSession) {
	if session == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[session.ID] = session.Clone()
}

func (c *memorySessionCache) Del(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.sessions, id)
	}
}

func (c *memorySessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}
