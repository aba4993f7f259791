package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"esrun/eventlog"
)

// MemoryCheckpointStore 内存检查点存储（用于测试）
//
// 不持久化，进程重启后数据丢失。TTL 以惰性方式生效（读取时判断）。
type MemoryCheckpointStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time // 零值表示永不过期
}

// NewMemoryCheckpointStore 创建内存检查点存储
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		entries: make(map[string]*memoryEntry),
	}
}

func (s *MemoryCheckpointStore) alive(e *memoryEntry) bool {
	return e != nil && (e.expiresAt.IsZero() || time.Now().Before(e.expiresAt))
}

// Get 读取指定组的位置
func (s *MemoryCheckpointStore) Get(ctx context.Context, group string) (*eventlog.StreamPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[group]
	if !s.alive(e) {
		return nil, nil
	}
	pos := e.entry.Position
	return &pos, nil
}

// Set 无条件写入位置
func (s *MemoryCheckpointStore) Set(ctx context.Context, group string, pos eventlog.StreamPosition, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(group, pos, ttl)
	return nil
}

// SetIfNewer 原子比较写入
func (s *MemoryCheckpointStore) SetIfNewer(ctx context.Context, group string, pos eventlog.StreamPosition, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.entries[group]; s.alive(e) && e.entry.Position.Commit > pos.Commit {
		return false, nil
	}
	s.put(group, pos, ttl)
	return true, nil
}

func (s *MemoryCheckpointStore) put(group string, pos eventlog.StreamPosition, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	s.entries[group] = &memoryEntry{
		entry:     Entry{Group: group, Position: pos, UpdatedAt: time.Now()},
		expiresAt: expires,
	}
}

// Delete 删除检查点
func (s *MemoryCheckpointStore) Delete(ctx context.Context, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, group)
	return nil
}

// Scan 游标分页遍历
//
// 内存实现对键排序后按偏移分页，游标即偏移量。
func (s *MemoryCheckpointStore) Scan(ctx context.Context, cursor uint64, count int64) ([]Entry, uint64, error) {
	if count <= 0 {
		count = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]string, 0, len(s.entries))
	for g, e := range s.entries {
		if s.alive(e) {
			groups = append(groups, g)
		}
	}
	sort.Strings(groups)

	if cursor >= uint64(len(groups)) {
		return nil, 0, nil
	}

	end := cursor + uint64(count)
	if end > uint64(len(groups)) {
		end = uint64(len(groups))
	}

	batch := make([]Entry, 0, end-cursor)
	for _, g := range groups[cursor:end] {
		batch = append(batch, s.entries[g].entry)
	}

	next := end
	if next >= uint64(len(groups)) {
		next = 0
	}
	return batch, next, nil
}

// GetAll 返回所有检查点
func (s *MemoryCheckpointStore) GetAll(ctx context.Context) ([]Entry, error) {
	var all []Entry
	var cursor uint64
	for {
		batch, next, err := s.Scan(ctx, cursor, 100)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if next == 0 {
			return all, nil
		}
		cursor = next
	}
}

// Clear 删除所有检查点
func (s *MemoryCheckpointStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*memoryEntry)
	return nil
}

// Ensure interface compliance
var _ ICheckpointStore = (*MemoryCheckpointStore)(nil)
