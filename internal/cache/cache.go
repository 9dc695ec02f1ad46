package cache

import (
	"sync"

	"adflow-gateway/pkg/logger"
)

// Cache 是按字符串key组织的读缓存
// 后台任务完成时相关key会被失效，读取方在未命中时重新拉取
type Cache struct {
	mu      sync.RWMutex
	entries map[string]interface{}
	subs    []func(key string)
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]interface{}),
	}
}

func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

// Invalidate 删除给定key的缓存条目并通知订阅方重新拉取
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	subs := make([]func(string), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, key := range keys {
		logger.Debugf("Cache invalidated: %s", key)
		for _, fn := range subs {
			fn(key)
		}
	}
}

// Flush 清空全部缓存（会话失效时调用）
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]interface{})
}

// OnInvalidate 注册失效通知回调
func (c *Cache) OnInvalidate(fn func(key string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}
