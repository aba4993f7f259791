package aggregate

import (
	"context"
	"time"
)

// Snapshot 聚合在某个版本的状态快照
//
// 同时记录领域版本与流内序号：二者可能发散（例如事件被
// 升级器折叠），重放必须从 StreamRevision+1 续读而不是用
// 领域版本推算偏移。
type Snapshot[S any] struct {
	State S `json:"state"`

	// Version 领域版本（已应用事件的计数索引）
	Version uint64 `json:"version"`

	// StreamRevision 最后一个已纳入快照的事件的流内序号
	StreamRevision uint64 `json:"stream_revision"`

	// TakenAt 快照时间
	TakenAt time.Time `json:"taken_at"`
}

// ISnapshotRepository 快照仓储接口（外部协作者）
type ISnapshotRepository[S any] interface {
	// LoadLatest 加载最新快照
	//
	// 返回：
	//   - *Snapshot[S]: 最新快照，不存在时为 nil
	//   - bool: 是否命中缓存层（监控用）
	//   - error: 仅存储故障时非 nil
	LoadLatest(ctx context.Context, snapshotID string) (*Snapshot[S], bool, error)

	// Save 保存快照（覆盖同一 snapshotID 的旧快照）
	Save(ctx context.Context, snapshotID string, snapshot Snapshot[S]) error
}

// Policy 快照触发策略
//
// 任一阈值先到即触发：自上次快照以来的事件数，或墙钟时间。
type Policy struct {
	// EveryEvents 事件数阈值，默认 200
	EveryEvents int

	// MaxAge 时间阈值，默认 5 分钟
	MaxAge time.Duration
}

// DefaultPolicy 返回默认快照策略
func DefaultPolicy() Policy {
	return Policy{
		EveryEvents: 200,
		MaxAge:      5 * time.Minute,
	}
}

// ShouldSnapshot 判断是否应当重新快照
//
// 参数：
//   - eventsSince: 自上次快照以来重放的事件数
//   - lastTaken: 上次快照时间，零值表示从未快照
func (p Policy) ShouldSnapshot(eventsSince int, lastTaken time.Time) bool {
	if eventsSince <= 0 {
		return false
	}
	if p.EveryEvents > 0 && eventsSince >= p.EveryEvents {
		return true
	}
	if p.MaxAge > 0 && !lastTaken.IsZero() && time.Since(lastTaken) >= p.MaxAge {
		return true
	}
	return false
}
