// Package eventlog 定义追加式事件日志的客户端抽象
//
// 日志服务本身（存储引擎、线协议）是外部协作者，本包只约定消费接口：
// 带期望版本的追加、正反向读取、带前缀过滤的全局订阅。
package eventlog

import (
	"context"
	"time"

	"esrun/errors"
	"esrun/retry"
)

// 日志客户端相关错误
var (
	// ErrRevisionConflict 期望版本不匹配（乐观锁冲突）
	ErrRevisionConflict = errors.New(errors.KindConflict, "expected revision mismatch")

	// ErrStreamNotFound 流不存在
	ErrStreamNotFound = errors.New(errors.KindDomain, "stream not found")

	// ErrSubscriptionClosed 订阅已关闭
	ErrSubscriptionClosed = errors.New(errors.KindInfrastructure, "subscription closed")
)

// Direction 读取方向
type Direction int

const (
	Forward Direction = iota
	Backward
)

// expectKind 期望版本的种类
type expectKind int

const (
	expectAny expectKind = iota
	expectNone
	expectExact
)

// ExpectedRevision 追加时的乐观锁期望
//
// 三种语义：
//   - Any: 不做并发控制；
//   - None: 流必须不存在（首个事件）；
//   - Exact(n): 流的当前最后序号必须等于 n。
type ExpectedRevision struct {
	kind  expectKind
	value uint64
}

// ExpectAny 不校验版本
func ExpectAny() ExpectedRevision { return ExpectedRevision{kind: expectAny} }

// ExpectNone 期望流尚不存在
func ExpectNone() ExpectedRevision { return ExpectedRevision{kind: expectNone} }

// ExpectExact 期望流的最后序号等于 revision
func ExpectExact(revision uint64) ExpectedRevision {
	return ExpectedRevision{kind: expectExact, value: revision}
}

// Matches 判断期望是否与流的当前状态匹配
//
// exists 为 false 时 lastRevision 无意义。
func (e ExpectedRevision) Matches(exists bool, lastRevision uint64) bool {
	switch e.kind {
	case expectAny:
		return true
	case expectNone:
		return !exists
	case expectExact:
		return exists && lastRevision == e.value
	default:
		return false
	}
}

// ISubscription 全局订阅游标
//
// Next 逐条拉取，天然适配单消费者顺序处理；取消通过 ctx 协作完成。
type ISubscription interface {
	// Next 阻塞等待下一个事件
	//
	// 返回：
	//   - *ResolvedEvent: 按日志顺序的下一个事件
	//   - error: ctx 取消返回 ctx.Err()，订阅关闭返回 ErrSubscriptionClosed
	Next(ctx context.Context) (*ResolvedEvent, error)

	// Close 关闭订阅并释放资源
	Close() error
}

// IEventLogClient 事件日志客户端接口（消费方定义）
type IEventLogClient interface {
	// Append 追加事件到指定流
	//
	// 参数：
	//   - streamID: 流标识
	//   - events: 待追加事件（按序）
	//   - expected: 期望版本（乐观锁）
	//
	// 返回：
	//   - uint64: 追加后流的最后序号
	//   - error: 版本冲突返回 ErrRevisionConflict
	Append(ctx context.Context, streamID string, events []EventEnvelope, expected ExpectedRevision) (uint64, error)

	// ReadStream 读取单个流的事件
	//
	// 参数：
	//   - fromRevision: 起始序号（包含）；Backward 方向时表示从该序号向前读
	//   - direction: 读取方向
	//   - limit: 最多返回条数，0 表示不限制
	//
	// 返回：
	//   - []ResolvedEvent: 事件列表；流不存在时返回空列表而非错误
	ReadStream(ctx context.Context, streamID string, fromRevision uint64, direction Direction, limit int) ([]ResolvedEvent, error)

	// SubscribeAll 从指定位置订阅全局日志
	//
	// 参数：
	//   - from: 起始位置（不包含），nil 表示从头开始
	//   - streamPrefix: 流ID前缀过滤，空串表示全部
	SubscribeAll(ctx context.Context, from *StreamPosition, streamPrefix string) (ISubscription, error)
}

// appendRetryConfig 追加冲突的自动重试参数
//
// 只对版本冲突重试：冲突通常来自同一流上的短暂竞争，
// 有界抖动退避后大概率成功；其他错误直接上抛。
var appendRetryConfig = retry.Config{
	MaxAttempts:   4,
	InitialDelay:  50 * time.Millisecond,
	BackoffFactor: 2.0,
	MaxDelay:      500 * time.Millisecond,
	Jitter:        0.25,
	RetryIf: func(err error) bool {
		return errors.IsKind(err, errors.KindConflict)
	},
}

// AppendWithConflictRetry 带冲突重试的追加
//
// 适用于 ExpectAny 语义下的并发追加竞争。Exact 期望下的冲突意味着
// 调用方需要重新加载聚合再决策，重试同一期望版本没有意义，
// 此时首次冲突即返回。
func AppendWithConflictRetry(ctx context.Context, client IEventLogClient, streamID string, events []EventEnvelope, expected ExpectedRevision) (uint64, error) {
	if expected.kind == expectExact {
		return client.Append(ctx, streamID, events, expected)
	}

	var next uint64
	err := retry.Do(ctx, func(ctx context.Context) error {
		n, err := client.Append(ctx, streamID, events, expected)
		if err != nil {
			return err
		}
		next = n
		return nil
	}, appendRetryConfig)
	return next, err
}
