// Package checkpoint 提供订阅组读取进度的持久化
//
// 检查点是消费者的崩溃安全进度标记：每组一个位置，单调不减。
// 读取永不因缺失而失败——没有检查点就意味着"从头开始"。
package checkpoint

import (
	"context"
	"time"

	"esrun/errors"
	"esrun/eventlog"
)

// Entry 一条检查点记录
type Entry struct {
	Group     string                  `json:"group"`
	Position  eventlog.StreamPosition `json:"position"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// ICheckpointStore 检查点存储接口
type ICheckpointStore interface {
	// Get 读取指定组的位置
	//
	// 返回：
	//   - *eventlog.StreamPosition: 位置；检查点不存在时为 nil（且 error 为 nil）
	//   - error: 仅存储故障时非 nil
	Get(ctx context.Context, group string) (*eventlog.StreamPosition, error)

	// Set 无条件写入位置
	//
	// 参数：
	//   - ttl: 大于 0 时设置过期时间，否则永不过期
	Set(ctx context.Context, group string, pos eventlog.StreamPosition, ttl time.Duration) error

	// SetIfNewer 原子比较写入
	//
	// 仅当传入 commit ≥ 已存 commit 时更新，防止时钟漂移的并发
	// 写者把位置回拨。
	//
	// 返回：
	//   - bool: 是否发生了更新
	SetIfNewer(ctx context.Context, group string, pos eventlog.StreamPosition, ttl time.Duration) (bool, error)

	// Delete 删除检查点（重置订阅组）
	//
	// 检查点不存在不是错误。
	Delete(ctx context.Context, group string) error

	// Scan 游标分页遍历所有检查点
	//
	// 管理用途。实现必须使用游标迭代，禁止阻塞式全键空间扫描。
	//
	// 参数：
	//   - cursor: 上次返回的游标，0 表示开始
	//   - count: 单批数量提示
	//
	// 返回：
	//   - []Entry: 本批记录
	//   - uint64: 下一游标，0 表示遍历完成
	Scan(ctx context.Context, cursor uint64, count int64) ([]Entry, uint64, error)

	// GetAll 遍历返回所有检查点（内部走 Scan）
	GetAll(ctx context.Context) ([]Entry, error)

	// Clear 删除所有检查点（内部走 Scan）
	Clear(ctx context.Context) error
}

// ErrStoreFailed 检查点存储故障
var ErrStoreFailed = errors.New(errors.KindInfrastructure, "checkpoint store failed")
