package projection

import (
	"context"
	"time"

	"esrun/cache"
	"esrun/errors"
	"esrun/eventlog"
	"esrun/logging"
)

const (
	// DefaultDedupTTL 去重标记保留时长
	DefaultDedupTTL = 48 * time.Hour

	// DefaultHintTTL 版本提示保留时长
	DefaultHintTTL = 7 * 24 * time.Hour

	// DefaultDeleteExpiry 软删除后哈希的自过期时长
	DefaultDeleteExpiry = 30 * 24 * time.Hour

	// DefaultTenant 事件未携带租户时的归属
	DefaultTenant = "default"
)

// Config 投影引擎配置
type Config struct {
	// Extract 参数提取器（必填，引擎唯一的领域接缝）
	Extract Extractor

	// KeyPrefix 所有键的统一前缀，用于多环境共用一个存储
	KeyPrefix string

	// DedupTTL 去重标记 TTL，0 表示 48 小时
	DedupTTL time.Duration

	// HintTTL 版本提示 TTL，0 表示 7 天
	HintTTL time.Duration

	// DeleteExpiry 软删除自过期时长，0 表示 30 天
	DeleteExpiry time.Duration

	// HintCacheSize 一级提示缓存容量，0 表示 4096
	HintCacheSize int

	// Logger 为 nil 时取全局
	Logger logging.Logger

	// Tracker 为 nil 时取空实现
	Tracker IProgressTracker
}

// Engine 投影引擎
//
// 对每个事件依次过三道闸：去重闸、版本提示闸、存储端版本比较。
// 任何一道判定重复即跳过，三道互相独立，单点失效不破坏幂等。
type Engine struct {
	extract      Extractor
	store        IEntityStore
	keys         keyBuilder
	dedupTTL     time.Duration
	hintTTL      time.Duration
	deleteExpiry time.Duration

	// hintCache 版本提示的一级缓存，挡掉大部分远端提示读
	hintCache *cache.Cache[string, uint64]

	logger  logging.Logger
	tracker IProgressTracker
}

// NewEngine 创建投影引擎
func NewEngine(store IEntityStore, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, errors.New(errors.KindDomain, "entity store is required")
	}
	if cfg.Extract == nil {
		return nil, errors.New(errors.KindDomain, "extractor is required")
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}
	if cfg.HintTTL <= 0 {
		cfg.HintTTL = DefaultHintTTL
	}
	if cfg.DeleteExpiry <= 0 {
		cfg.DeleteExpiry = DefaultDeleteExpiry
	}
	if cfg.HintCacheSize <= 0 {
		cfg.HintCacheSize = 4096
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NoopTracker{}
	}

	return &Engine{
		extract:      cfg.Extract,
		store:        store,
		keys:         keyBuilder{prefix: cfg.KeyPrefix},
		dedupTTL:     cfg.DedupTTL,
		hintTTL:      cfg.HintTTL,
		deleteExpiry: cfg.DeleteExpiry,
		hintCache:    cache.New[string, uint64](cfg.HintCacheSize, cfg.HintTTL),
		logger:       cfg.Logger,
		tracker:      cfg.Tracker,
	}, nil
}

// Apply 投影单个事件
//
// 返回：
//   - Outcome: 本次尝试的结果标签
//   - error: 非 nil 表示提取、键派生或存储执行失败（结果为 UNKNOWN）
//
// 无论成败都向追踪器上报日志位置：位置上报与处理结果解耦，
// 反复失败的毒事件不会让健康进度停滞。
func (e *Engine) Apply(ctx context.Context, ev Event) (Outcome, error) {
	if ev.Position != nil {
		defer e.tracker.ReportPosition(*ev.Position)
	}

	outcome, err := e.apply(ctx, ev)
	e.tracker.ReportOutcome(outcome)
	if err != nil {
		e.tracker.ReportError(err)
		e.logger.Error(ctx, "projection failed",
			logging.String("stream_id", ev.StreamID),
			logging.Uint64("revision", ev.Revision),
			logging.String("event_type", ev.Type),
			logging.Error(err))
		return outcome, err
	}

	fields := []logging.Field{
		logging.String("stream_id", ev.StreamID),
		logging.Uint64("revision", ev.Revision),
		logging.String("outcome", string(outcome)),
	}
	if outcome == OutcomeApplied {
		e.logger.Debug(ctx, "projection applied", fields...)
	} else {
		e.logger.Info(ctx, "projection skipped", fields...)
	}
	return outcome, nil
}

func (e *Engine) apply(ctx context.Context, ev Event) (Outcome, error) {
	tenant := ev.Metadata.Tenant
	if tenant == "" {
		tenant = DefaultTenant
	}

	params, err := e.extract(ev)
	if err != nil {
		return OutcomeUnknown, errors.Wrap(errors.KindInfrastructure, "extract projection params", err).
			With("event_type", ev.Type)
	}
	if err := params.Validate(); err != nil {
		return OutcomeUnknown, errors.Wrap(errors.KindInfrastructure, "invalid projection params", err).
			With("event_type", ev.Type)
	}

	// 第一道闸：同一 (租户, 流, 版位) 只放行一次
	dedupKey := e.keys.DedupKey(tenant, ev.StreamID, ev.Revision)
	first, err := e.store.TryDedup(ctx, dedupKey, e.dedupTTL)
	if err != nil {
		return OutcomeUnknown, err
	}
	if !first {
		return OutcomeSkippedDedup, nil
	}

	// 第二道闸：已应用版本不低于本次时直接短路，
	// 不必触达实体哈希。提示只是优化，读失败按缺失处理继续。
	hintKey := e.keys.HintKey(tenant, params.EntityType, params.EntityID)
	if hint, ok := e.lookupHint(ctx, hintKey); ok && hint >= params.Version {
		return OutcomeSkippedHint, nil
	}

	entityKey := e.keys.EntityKey(params.EntityType, tenant, params.EntityID)
	indexKey := e.keys.IndexKey(params.EntityType, tenant)

	var applied bool
	if params.Deleted {
		applied, err = e.store.SoftDelete(ctx, SoftDeleteOp{
			EntityKey: entityKey,
			IndexKey:  indexKey,
			Member:    params.EntityID,
			Version:   params.Version,
			DeletedAt: params.UpdatedAt,
			Expiry:    e.deleteExpiry,
		})
	} else {
		var pairs []FieldPair
		pairs, err = NormalizeFields(params.Fields)
		if err != nil {
			return OutcomeUnknown, errors.Wrap(errors.KindInfrastructure, "normalize projection fields", err).
				With("event_type", ev.Type)
		}
		applied, err = e.store.Upsert(ctx, UpsertOp{
			EntityKey: entityKey,
			IndexKey:  indexKey,
			Member:    params.EntityID,
			Version:   params.Version,
			Score:     float64(params.UpdatedAt.UnixMilli()),
			Fields:    pairs,
		})
	}
	if err != nil {
		return OutcomeUnknown, err
	}
	if !applied {
		// 第三道闸：存储端版本比较原子中止，无任何部分写入
		return OutcomeStaleOCC, nil
	}

	e.refreshHint(ctx, hintKey, params.Version)
	return OutcomeApplied, nil
}

// lookupHint 先查一级缓存，未命中再读存储并回填
func (e *Engine) lookupHint(ctx context.Context, key string) (uint64, bool) {
	if hint, ok := e.hintCache.Get(key); ok {
		return hint, true
	}
	hint, exists, err := e.store.GetVersionHint(ctx, key)
	if err != nil {
		e.logger.Warn(ctx, "version hint read failed", logging.String("key", key), logging.Error(err))
		return 0, false
	}
	if exists {
		e.hintCache.Set(key, hint)
	}
	return hint, exists
}

// refreshHint APPLIED 后写透刷新提示（存储 + 一级缓存）
//
// 提示写失败只降级告警：幂等性不依赖提示，下一次重复投递
// 仍会被去重闸或版本比较拦下。
func (e *Engine) refreshHint(ctx context.Context, key string, version uint64) {
	if err := e.store.SetVersionHint(ctx, key, version, e.hintTTL); err != nil {
		e.logger.Warn(ctx, "version hint write failed", logging.String("key", key), logging.Error(err))
	}
	e.hintCache.Set(key, version)
}

// Handle 订阅处理适配：把日志事件转成投影事件并执行
//
// 供 CatchUpRunner 作为事件处理器直接挂载。
func (e *Engine) Handle(ctx context.Context, ev eventlog.ResolvedEvent) error {
	_, err := e.Apply(ctx, FromResolved(ev))
	return err
}
