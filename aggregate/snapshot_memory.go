package aggregate

import (
	"context"
	"sync"
)

// MemorySnapshotRepository 内存快照仓储（用于测试）
type MemorySnapshotRepository[S any] struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot[S]
	saves     int
}

// NewMemorySnapshotRepository 创建内存快照仓储
func NewMemorySnapshotRepository[S any]() *MemorySnapshotRepository[S] {
	return &MemorySnapshotRepository[S]{
		snapshots: make(map[string]Snapshot[S]),
	}
}

// LoadLatest 加载最新快照
func (r *MemorySnapshotRepository[S]) LoadLatest(ctx context.Context, snapshotID string) (*Snapshot[S], bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.snapshots[snapshotID]
	if !ok {
		return nil, false, nil
	}
	// 内存实现天然命中"缓存"
	return &snap, true, nil
}

// Save 保存快照
func (r *MemorySnapshotRepository[S]) Save(ctx context.Context, snapshotID string, snapshot Snapshot[S]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots[snapshotID] = snapshot
	r.saves++
	return nil
}

// SaveCount 返回保存次数（测试辅助）
func (r *MemorySnapshotRepository[S]) SaveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}

// Ensure interface compliance
var _ ISnapshotRepository[any] = (*MemorySnapshotRepository[any])(nil)
