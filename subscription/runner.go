// Package subscription 提供可恢复的追赶式订阅消费
//
// 每个订阅组由单个协作式循环驱动：组内事件严格按日志顺序逐条
// 处理，组间互不共享可变状态。进度以检查点批量落盘，崩溃后
// 从上次检查点恢复（至少一次投递，幂等性由下游保证）。
package subscription

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"esrun/checkpoint"
	"esrun/errors"
	"esrun/eventlog"
	"esrun/logging"
	"esrun/retry"
)

const (
	// DefaultCheckpointBatchSize 每多少个事件物理落盘一次检查点
	DefaultCheckpointBatchSize = 10

	// DefaultProgressBatchSize 每多少个事件输出一次进度日志
	DefaultProgressBatchSize = 1000

	// DefaultMaxRetries 基础设施失败的最大重试次数（不含首次）
	DefaultMaxRetries = 5

	// DefaultRetryInitialDelay 重试退避下限
	DefaultRetryInitialDelay = 100 * time.Millisecond

	// DefaultRetryMaxDelay 重试退避上限
	DefaultRetryMaxDelay = 30 * time.Second
)

// Handler 每个事件的处理函数
//
// 返回的错误经分类决定去向：基础设施错误有界重试，
// 领域错误不重试直接进入死信路径。
type Handler func(ctx context.Context, ev eventlog.ResolvedEvent) error

// Config 运行器配置
type Config struct {
	// CheckpointBatchSize 检查点落盘批量，0 表示 10
	CheckpointBatchSize int

	// ProgressBatchSize 进度日志批量，0 表示 1000
	ProgressBatchSize int

	// MaxRetries 基础设施失败的最大重试次数，0 表示 5
	MaxRetries int

	// RetryInitialDelay 重试初始退避，低于 100ms 时取 100ms
	RetryInitialDelay time.Duration

	// RetryMaxDelay 重试最大退避，0 表示 30s
	RetryMaxDelay time.Duration

	// CheckpointTTL 检查点过期时间，0 表示永不过期
	CheckpointTTL time.Duration

	// DeadLetters 可选的死信槽；为 nil 时失败事件记日志后跳过
	DeadLetters IDeadLetterSink

	// Logger 为 nil 时取全局
	Logger logging.Logger
}

// GroupStatus 订阅组运行状态快照
type GroupStatus struct {
	Group        string
	Running      bool
	Processed    uint64
	Failed       uint64
	DeadLettered uint64

	// LastCommit 最近处理事件的全局 commit 序号
	LastCommit uint64
}

type groupState struct {
	cancel context.CancelFunc
	done   chan struct{}

	processed    atomic.Uint64
	failed       atomic.Uint64
	deadLettered atomic.Uint64
	lastCommit   atomic.Uint64
}

// CatchUpRunner 追赶式订阅运行器
//
// 状态机：IDLE → RUNNING →（请求取消）→ IDLE。
// 对已在运行的组再次 Start 是幂等空操作。
type CatchUpRunner struct {
	log         eventlog.IEventLogClient
	checkpoints checkpoint.ICheckpointStore
	cfg         Config
	retryCfg    retry.Config
	logger      logging.Logger

	mu     sync.Mutex
	groups map[string]*groupState
}

// NewCatchUpRunner 创建运行器
func NewCatchUpRunner(log eventlog.IEventLogClient, checkpoints checkpoint.ICheckpointStore, cfg Config) (*CatchUpRunner, error) {
	if log == nil {
		return nil, errors.New(errors.KindDomain, "event log client is required")
	}
	if checkpoints == nil {
		return nil, errors.New(errors.KindDomain, "checkpoint store is required")
	}
	if cfg.CheckpointBatchSize <= 0 {
		cfg.CheckpointBatchSize = DefaultCheckpointBatchSize
	}
	if cfg.ProgressBatchSize <= 0 {
		cfg.ProgressBatchSize = DefaultProgressBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryInitialDelay < DefaultRetryInitialDelay {
		cfg.RetryInitialDelay = DefaultRetryInitialDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger().WithFields(logging.String("component", "subscription.runner"))
	}

	return &CatchUpRunner{
		log:         log,
		checkpoints: checkpoints,
		cfg:         cfg,
		retryCfg: retry.Config{
			MaxAttempts:   cfg.MaxRetries + 1,
			InitialDelay:  cfg.RetryInitialDelay,
			BackoffFactor: 2.0,
			MaxDelay:      cfg.RetryMaxDelay,
			Jitter:        0.25,
			RetryIf: func(err error) bool {
				return errors.Classify(err).Retryable()
			},
		},
		logger: cfg.Logger,
		groups: make(map[string]*groupState),
	}, nil
}

// Start 启动一个订阅组
//
// 参数：
//   - group: 组名（检查点按组持久化）
//   - streamPrefix: 流ID前缀过滤，空串表示全部
//   - handler: 事件处理函数
//
// 从该组的检查点位置恢复消费；没有检查点则从头开始。
// 组已在运行时直接返回 nil。
func (r *CatchUpRunner) Start(ctx context.Context, group, streamPrefix string, handler Handler) error {
	if group == "" {
		return errors.New(errors.KindDomain, "subscription group cannot be empty")
	}
	if handler == nil {
		return errors.New(errors.KindDomain, "handler is required")
	}

	r.mu.Lock()
	if _, running := r.groups[group]; running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	st := &groupState{cancel: cancel, done: make(chan struct{})}
	r.groups[group] = st
	r.mu.Unlock()

	from, err := r.checkpoints.Get(ctx, group)
	if err != nil {
		r.remove(group, st)
		cancel()
		return errors.Wrap(errors.KindInfrastructure, "load checkpoint", err).With("group", group)
	}

	sub, err := r.log.SubscribeAll(runCtx, from, streamPrefix)
	if err != nil {
		r.remove(group, st)
		cancel()
		return errors.Wrap(errors.KindInfrastructure, "subscribe event log", err).With("group", group)
	}

	r.logger.Info(ctx, "subscription group started",
		logging.String("group", group),
		logging.String("stream_prefix", streamPrefix),
		logging.Bool("resumed", from != nil))

	go r.run(runCtx, group, st, sub, handler)
	return nil
}

// run 单组消费循环：组内严格单写者，取消只在事件间协作检查
func (r *CatchUpRunner) run(ctx context.Context, group string, st *groupState, sub eventlog.ISubscription, handler Handler) {
	defer close(st.done)
	defer r.remove(group, st)
	defer func() { _ = sub.Close() }()

	var pending *eventlog.StreamPosition
	sinceFlush := 0
	windowStart := time.Now()

	flush := func() {
		if pending == nil {
			return
		}
		if _, err := r.checkpoints.SetIfNewer(context.WithoutCancel(ctx), group, *pending, r.cfg.CheckpointTTL); err != nil {
			r.logger.Error(ctx, "checkpoint flush failed",
				logging.String("group", group),
				logging.Uint64("commit", pending.Commit),
				logging.Error(err))
			return
		}
		pending = nil
		sinceFlush = 0
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, err := sub.Next(ctx)
		if err != nil {
			if errors.Classify(err) != errors.KindCancelled {
				r.logger.Error(ctx, "subscription read failed",
					logging.String("group", group), logging.Error(err))
			}
			return
		}

		if err := r.process(ctx, group, st, ev, handler); err != nil {
			// 只有取消会走到这里：本事件未完成，不记位置，留给下次恢复
			return
		}

		// 无论成败都记位置：毒事件绝不无限重放
		pending = &ev.Position
		st.lastCommit.Store(ev.Position.Commit)
		processed := st.processed.Add(1)
		sinceFlush++

		if sinceFlush >= r.cfg.CheckpointBatchSize {
			flush()
		}
		if processed%uint64(r.cfg.ProgressBatchSize) == 0 {
			elapsed := time.Since(windowStart)
			windowStart = time.Now()
			r.logger.Info(ctx, "subscription progress",
				logging.String("group", group),
				logging.Uint64("processed", processed),
				logging.Uint64("failed", st.failed.Load()),
				logging.Uint64("dead_lettered", st.deadLettered.Load()),
				logging.Duration("window", elapsed))
		}
	}
}

// process 带分类重试的单事件处理
//
// 返回非 nil 仅表示处理因取消中断；领域失败与重试耗尽
// 在这里就地路由（死信或记日志跳过），不向上冒泡。
func (r *CatchUpRunner) process(ctx context.Context, group string, st *groupState, ev *eventlog.ResolvedEvent, handler Handler) error {
	err := retry.Do(ctx, func(ctx context.Context) error {
		return handler(ctx, *ev)
	}, r.retryCfg)
	if err == nil {
		return nil
	}

	kind := errors.Classify(err)
	if kind == errors.KindCancelled {
		return err
	}

	st.failed.Add(1)
	r.routeDeadLetter(ctx, group, st, ev, err, kind)
	return nil
}

func (r *CatchUpRunner) routeDeadLetter(ctx context.Context, group string, st *groupState, ev *eventlog.ResolvedEvent, cause error, kind errors.Kind) {
	if r.cfg.DeadLetters == nil {
		r.logger.Error(ctx, "event processing failed, skipping",
			logging.String("group", group),
			logging.String("stream_id", ev.StreamID),
			logging.Uint64("revision", ev.Revision),
			logging.String("kind", kind.String()),
			logging.Error(cause))
		return
	}

	letter := DeadLetter{
		ID:       uuid.NewString(),
		Group:    group,
		Event:    *ev,
		Reason:   cause.Error(),
		Kind:     kind,
		Attempts: r.retryCfg.MaxAttempts,
		FailedAt: time.Now(),
	}
	if kind != errors.KindInfrastructure {
		// 确定性失败不经重试，只尝试了一次
		letter.Attempts = 1
	}

	if err := r.cfg.DeadLetters.Publish(ctx, letter); err != nil {
		// 死信槽故障绝不致命，记日志后继续消费
		r.logger.Error(ctx, "dead letter publish failed",
			logging.String("group", group),
			logging.String("stream_id", ev.StreamID),
			logging.Uint64("revision", ev.Revision),
			logging.Error(err))
		return
	}
	st.deadLettered.Add(1)
	r.logger.Info(ctx, "event routed to dead letter sink",
		logging.String("group", group),
		logging.String("stream_id", ev.StreamID),
		logging.Uint64("revision", ev.Revision),
		logging.String("kind", kind.String()))
}

// Stop 停止指定组并等待循环退出
//
// 退出前残留的检查点会被落盘。组不存在时直接返回 nil。
func (r *CatchUpRunner) Stop(ctx context.Context, group string) error {
	r.mu.Lock()
	st, ok := r.groups[group]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	st.cancel()
	select {
	case <-st.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.KindCancelled, fmt.Sprintf("stop group %s", group), ctx.Err())
	}
}

// Shutdown 优雅停止所有组
//
// 逐组请求取消并等待各自的消费循环落盘退出。
func (r *CatchUpRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	states := make(map[string]*groupState, len(r.groups))
	for group, st := range r.groups {
		states[group] = st
	}
	r.mu.Unlock()

	for _, st := range states {
		st.cancel()
	}
	for group, st := range states {
		select {
		case <-st.done:
		case <-ctx.Done():
			return errors.Wrap(errors.KindCancelled, fmt.Sprintf("shutdown waiting for group %s", group), ctx.Err())
		}
	}
	r.logger.Info(ctx, "subscription runner shut down", logging.Int("groups", len(states)))
	return nil
}

// Status 返回指定组的状态快照
func (r *CatchUpRunner) Status(group string) GroupStatus {
	r.mu.Lock()
	st, running := r.groups[group]
	r.mu.Unlock()

	status := GroupStatus{Group: group, Running: running}
	if running {
		status.Processed = st.processed.Load()
		status.Failed = st.failed.Load()
		status.DeadLettered = st.deadLettered.Load()
		status.LastCommit = st.lastCommit.Load()
	}
	return status
}

// Groups 返回所有运行中的组名
func (r *CatchUpRunner) Groups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups := make([]string, 0, len(r.groups))
	for group := range r.groups {
		groups = append(groups, group)
	}
	return groups
}

func (r *CatchUpRunner) remove(group string, st *groupState) {
	r.mu.Lock()
	if cur, ok := r.groups[group]; ok && cur == st {
		delete(r.groups, group)
	}
	r.mu.Unlock()
}
