package projection

import (
	"context"
	"time"
)

// UpsertOp 一次原子更新插入
//
// 版本比较与字段写入、索引更新在同一原子单元内完成：
// 传入版本不高于已存版本时整个操作中止，不产生部分写入。
type UpsertOp struct {
	EntityKey string
	IndexKey  string

	// Member 索引成员（实体ID）
	Member string

	// Version 传入的领域版本
	Version uint64

	// Score 索引分值（更新时间，Unix 毫秒）
	Score float64

	// Fields 归一化后的有序字段对
	Fields []FieldPair
}

// SoftDeleteOp 一次原子软删除
//
// 设置 deletedAt、施加有界自过期、移出活跃索引，三者原子完成。
// 哈希本体保留到 TTL 到期，期间仍可按键直查（审计/恢复窗口）。
type SoftDeleteOp struct {
	EntityKey string
	IndexKey  string
	Member    string
	Version   uint64
	DeletedAt time.Time

	// Expiry 自过期时长，默认 30 天
	Expiry time.Duration
}

// IEntityStore 投影实体存储接口
//
// Upsert/SoftDelete 是每个实体/索引对的唯一变更入口，由存储端
// 对同一键槽串行执行——这正是无分布式锁也能安全多写的原因。
type IEntityStore interface {
	// Upsert 原子更新插入
	//
	// 返回：
	//   - bool: true 表示写入生效；false 表示版本过期（STALE_OCC），无任何写入
	Upsert(ctx context.Context, op UpsertOp) (bool, error)

	// SoftDelete 原子软删除
	//
	// 返回：
	//   - bool: true 表示删除生效；false 表示版本过期
	SoftDelete(ctx context.Context, op SoftDeleteOp) (bool, error)

	// TryDedup 原子的"不存在则置位"去重闸
	//
	// 返回：
	//   - bool: true 表示首次见到该键；false 表示重复投递
	TryDedup(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// GetVersionHint 读取版本提示
	//
	// 返回：
	//   - uint64: 最近应用的版本
	//   - bool: 提示是否存在
	GetVersionHint(ctx context.Context, key string) (uint64, bool, error)

	// SetVersionHint 写入版本提示（APPLIED 后写透刷新）
	SetVersionHint(ctx context.Context, key string, version uint64, ttl time.Duration) error
}
