package aggregate

import (
	"context"
	"time"

	"esrun/errors"
	"esrun/eventlog"
	"esrun/logging"
)

// Reducer 纯函数折叠：(state, event) -> state
//
// 必须是确定性的：相同输入永远产生相同输出。
// 返回错误表示数据损坏或 reducer 缺陷，本次加载立即中止。
type Reducer[S any] func(state S, event eventlog.ResolvedEvent) (S, error)

// LoadKind 加载结果种类
type LoadKind int

const (
	// LoadOK 加载成功
	LoadOK LoadKind = iota

	// LoadCancelled 重放中途被协作取消，不返回部分状态
	LoadCancelled

	// LoadApplyFailed reducer 应用事件失败（数据完整性问题，致命）
	LoadApplyFailed

	// LoadRebuildFailed 其他基础设施失败（读流、读快照）
	LoadRebuildFailed
)

// EventRef 失败事件的身份（类型、流、序号、领域版本）
type EventRef struct {
	Type     string
	StreamID string
	Revision uint64
	Version  uint64
}

// LoadResult 类型化加载结果
//
// Kind 为 LoadOK 时 State/Version/StreamRevision 有效；
// 其他种类时 Err 携带原始失败细节，LoadApplyFailed 另附 FailedEvent。
type LoadResult[S any] struct {
	Kind           LoadKind
	State          S
	Version        uint64
	StreamRevision uint64
	Err            error
	FailedEvent    *EventRef
}

// Config 聚合仓储配置
type Config struct {
	BoundedContext string
	AggregateType  string
	SchemaVersion  int

	// Policy 快照策略，零值使用 DefaultPolicy
	Policy Policy

	// ReadBatchSize 重放时单次读取条数，默认 256
	ReadBatchSize int

	Logger logging.Logger
}

// Repository 聚合仓储
//
// 重建一个聚合：加载最新快照（或零状态），从快照之后的序号
// 按序重放事件，按策略重新快照。
type Repository[S any] struct {
	log       eventlog.IEventLogClient
	snapshots ISnapshotRepository[S]
	reducer   Reducer[S]
	zero      func() S
	cfg       Config
	logger    logging.Logger
}

// NewRepository 创建聚合仓储
//
// 参数：
//   - log: 事件日志客户端
//   - snapshots: 快照仓储，nil 表示不使用快照（每次全量重放）
//   - zero: 零状态构造函数
//   - reducer: 折叠函数
func NewRepository[S any](
	log eventlog.IEventLogClient,
	snapshots ISnapshotRepository[S],
	zero func() S,
	reducer Reducer[S],
	cfg Config,
) *Repository[S] {
	if cfg.Policy.EveryEvents == 0 && cfg.Policy.MaxAge == 0 {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.ReadBatchSize <= 0 {
		cfg.ReadBatchSize = 256
	}
	if cfg.SchemaVersion <= 0 {
		cfg.SchemaVersion = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger().WithFields(logging.String("component", "aggregate.repository"))
	}
	return &Repository[S]{
		log:       log,
		snapshots: snapshots,
		reducer:   reducer,
		zero:      zero,
		cfg:       cfg,
		logger:    logger,
	}
}

// identity 组装聚合身份
func (r *Repository[S]) identity(tenant, entityID string) Identity {
	return Identity{
		BoundedContext: r.cfg.BoundedContext,
		AggregateType:  r.cfg.AggregateType,
		SchemaVersion:  r.cfg.SchemaVersion,
		Tenant:         tenant,
		EntityID:       entityID,
	}
}

// Load 重建聚合，返回类型化结果
//
// 算法：
//  1. 派生流/快照标识；
//  2. 加载最新快照，缺失时从零状态开始；
//  3. 从快照序号+1 起严格按序重放；
//  4. 每个事件前检查取消；reducer 失败立即中止并附上事件身份；
//  5. 重放完成后按策略重新快照（保存失败只告警，不影响结果）。
func (r *Repository[S]) Load(ctx context.Context, tenant, entityID string) LoadResult[S] {
	id := r.identity(tenant, entityID)
	if err := id.Validate(); err != nil {
		return LoadResult[S]{
			Kind: LoadRebuildFailed,
			Err:  errors.Wrap(errors.KindDomain, "invalid aggregate identity", err),
		}
	}

	state := r.zero()
	var version uint64
	var fromRevision uint64
	var lastTaken time.Time
	haveSnapshot := false

	if r.snapshots != nil {
		snap, cacheHit, err := r.snapshots.LoadLatest(ctx, id.SnapshotID())
		if err != nil {
			return LoadResult[S]{
				Kind: LoadRebuildFailed,
				Err:  errors.Wrap(errors.KindInfrastructure, "snapshot load failed", err).With("snapshot_id", id.SnapshotID()),
			}
		}
		if snap != nil {
			state = snap.State
			version = snap.Version
			fromRevision = snap.StreamRevision + 1
			lastTaken = snap.TakenAt
			haveSnapshot = true
			r.logger.Debug(ctx, "从快照恢复",
				logging.String("stream", id.StreamID()),
				logging.Uint64("version", version),
				logging.Bool("cache_hit", cacheHit),
			)
		}
	}

	streamID := id.StreamID()
	var applied int
	var lastRevision uint64
	if haveSnapshot {
		lastRevision = fromRevision - 1
	}

	for {
		batch, err := r.log.ReadStream(ctx, streamID, fromRevision, eventlog.Forward, r.cfg.ReadBatchSize)
		if err != nil {
			if errors.Classify(err) == errors.KindCancelled {
				return LoadResult[S]{Kind: LoadCancelled, Err: err}
			}
			return LoadResult[S]{
				Kind: LoadRebuildFailed,
				Err:  errors.Wrap(errors.KindInfrastructure, "event replay read failed", err).With("stream", streamID),
			}
		}
		if len(batch) == 0 {
			break
		}

		for _, ev := range batch {
			// 事件之间的协作取消点：中途取消返回独立结果，不泄漏部分状态
			if err := ctx.Err(); err != nil {
				return LoadResult[S]{Kind: LoadCancelled, Err: err}
			}

			next, err := r.reducer(state, ev)
			if err != nil {
				ref := &EventRef{
					Type:     ev.Envelope.Type,
					StreamID: ev.StreamID,
					Revision: ev.Revision,
					Version:  version + 1,
				}
				return LoadResult[S]{
					Kind: LoadApplyFailed,
					Err: errors.Wrap(errors.KindIntegrity, "reducer apply failed", err).
						With("event_type", ref.Type).
						With("stream", ref.StreamID).
						With("revision", ref.Revision).
						With("version", ref.Version),
					FailedEvent: ref,
				}
			}
			state = next
			version++
			applied++
			lastRevision = ev.Revision
		}

		fromRevision = batch[len(batch)-1].Revision + 1
		if len(batch) < r.cfg.ReadBatchSize {
			break
		}
	}

	if r.snapshots != nil && r.cfg.Policy.ShouldSnapshot(applied, lastTaken) {
		snap := Snapshot[S]{
			State:          state,
			Version:        version,
			StreamRevision: lastRevision,
			TakenAt:        time.Now(),
		}
		if err := r.snapshots.Save(ctx, id.SnapshotID(), snap); err != nil {
			// 快照只是性能优化，保存失败不影响加载结果
			r.logger.Warn(ctx, "保存快照失败", logging.Error(err),
				logging.String("snapshot_id", id.SnapshotID()))
		} else {
			r.logger.Debug(ctx, "重新快照",
				logging.String("stream", streamID),
				logging.Uint64("version", version),
				logging.Int("events_since", applied),
			)
		}
	}

	return LoadResult[S]{
		Kind:           LoadOK,
		State:          state,
		Version:        version,
		StreamRevision: lastRevision,
	}
}

// MustLoad 抛错式便捷包装
//
// 返回：
//   - S: 聚合状态
//   - uint64: 领域版本
//   - error: 非 LoadOK 时携带原始失败细节
func (r *Repository[S]) MustLoad(ctx context.Context, tenant, entityID string) (S, uint64, error) {
	result := r.Load(ctx, tenant, entityID)
	if result.Kind != LoadOK {
		var zero S
		return zero, 0, result.Err
	}
	return result.State, result.Version, nil
}

// EstimateVersion 廉价估算当前版本（仅监控用）
//
// 通过单条反向读取取流尾序号，不做重放。领域版本与流序号
// 发散时该估算不精确，监控场景可接受。
func (r *Repository[S]) EstimateVersion(ctx context.Context, tenant, entityID string) (uint64, error) {
	id := r.identity(tenant, entityID)
	tail, err := r.log.ReadStream(ctx, id.StreamID(), ^uint64(0), eventlog.Backward, 1)
	if err != nil {
		return 0, errors.Wrap(errors.KindInfrastructure, "tail read failed", err).With("stream", id.StreamID())
	}
	if len(tail) == 0 {
		return 0, nil
	}
	return tail[0].Revision + 1, nil
}
