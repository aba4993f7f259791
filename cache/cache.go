// Package cache 提供泛型 LRU+TTL 进程内缓存
//
// 在投影引擎中用作版本提示的一级缓存，挡掉大部分对远端
// 提示键的读取。容量受限，超出时驱逐最久未使用的条目。
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache 通用泛型缓存
//
// 特性：
//   - LRU 驱逐：超过容量时删除最久未使用的条目
//   - TTL 过期：基于写入时间的过期策略
//   - 并发安全：RWMutex 保护
type Cache[K comparable, V any] struct {
	maxSize int
	ttl     time.Duration

	items   map[K]*entry[K, V]
	lruList *list.List

	mu    sync.Mutex
	stats Stats
}

type entry[K comparable, V any] struct {
	key        K
	value      V
	writtenAt  time.Time
	lruElement *list.Element
}

// Stats 缓存统计
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// New 创建缓存
//
// 参数：
//   - maxSize: 最大条目数，<=0 表示 1024
//   - ttl: 过期时间，0 表示永不过期
func New[K comparable, V any](maxSize int, ttl time.Duration) *Cache[K, V] {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Cache[K, V]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[K]*entry[K, V]),
		lruList: list.New(),
	}
}

// Get 获取缓存值
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}

	if c.ttl > 0 && time.Since(e.writtenAt) >= c.ttl {
		c.removeLocked(e)
		c.stats.Misses++
		return zero, false
	}

	c.lruList.MoveToFront(e.lruElement)
	c.stats.Hits++
	return e.value, true
}

// Set 写入缓存值
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.value = value
		e.writtenAt = time.Now()
		c.lruList.MoveToFront(e.lruElement)
		return
	}

	e := &entry[K, V]{key: key, value: value, writtenAt: time.Now()}
	e.lruElement = c.lruList.PushFront(e)
	c.items[key] = e

	if c.lruList.Len() > c.maxSize {
		oldest := c.lruList.Back()
		if oldest != nil {
			c.removeLocked(oldest.Value.(*entry[K, V]))
			c.stats.Evictions++
		}
	}
}

// Delete 删除缓存条目
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.removeLocked(e)
	}
}

// Len 当前条目数
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Stats 返回统计快照
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.lruList.Len()
	return s
}

func (c *Cache[K, V]) removeLocked(e *entry[K, V]) {
	c.lruList.Remove(e.lruElement)
	delete(c.items, e.key)
}
