package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esrun/errors"
	"esrun/eventlog"
	"esrun/logging"
)

// counterState 测试用聚合状态：累加事件携带的数值
type counterState struct {
	Total   int64    `json:"total"`
	Applied []string `json:"applied"`
}

func zeroCounter() counterState { return counterState{} }

func counterReducer(state counterState, ev eventlog.ResolvedEvent) (counterState, error) {
	var payload struct {
		Delta int64 `json:"delta"`
	}
	if err := json.Unmarshal(ev.Envelope.Data, &payload); err != nil {
		return state, err
	}
	if ev.Envelope.Type == "Poison" {
		return state, fmt.Errorf("reducer cannot apply poison event")
	}
	state.Total += payload.Delta
	state.Applied = append(state.Applied, ev.Envelope.Type)
	return state, nil
}

func appendCounterEvents(t *testing.T, log *eventlog.MemoryEventLog, streamID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		env, err := eventlog.NewEnvelope("Incremented", map[string]any{"delta": 1}, eventlog.Metadata{Tenant: "T1"})
		require.NoError(t, err)
		_, err = log.Append(context.Background(), streamID, []eventlog.EventEnvelope{env}, eventlog.ExpectAny())
		require.NoError(t, err)
	}
}

func newCounterRepo(log *eventlog.MemoryEventLog, snaps ISnapshotRepository[counterState], policy Policy) *Repository[counterState] {
	return NewRepository(log, snaps, zeroCounter, counterReducer, Config{
		BoundedContext: "test",
		AggregateType:  "counter",
		SchemaVersion:  1,
		Policy:         policy,
		Logger:         logging.NewNoopLogger(),
	})
}

// TestIdentity_Derivation 测试标识派生的确定性
func TestIdentity_Derivation(t *testing.T) {
	id := Identity{
		BoundedContext: "sales",
		AggregateType:  "order",
		SchemaVersion:  2,
		Tenant:         "T1",
		EntityID:       "42",
	}

	assert.Equal(t, "sales.order-T1-42", id.StreamID())
	assert.Equal(t, "sales:order:v2:T1:42", id.SnapshotID())

	bare := Identity{AggregateType: "order", Tenant: "T1", EntityID: "42"}
	assert.Equal(t, "order-T1-42", bare.StreamID())
}

// TestRepository_LoadFromScratch 测试零状态全量重放
func TestRepository_LoadFromScratch(t *testing.T) {
	log := eventlog.NewMemoryEventLog()
	repo := newCounterRepo(log, nil, DefaultPolicy())

	streamID := Identity{BoundedContext: "test", AggregateType: "counter", SchemaVersion: 1, Tenant: "T1", EntityID: "c1"}.StreamID()
	appendCounterEvents(t, log, streamID, 5)

	result := repo.Load(context.Background(), "T1", "c1")
	require.Equal(t, LoadOK, result.Kind)
	assert.Equal(t, int64(5), result.State.Total)
	assert.Equal(t, uint64(5), result.Version)
	assert.Equal(t, uint64(4), result.StreamRevision)
}

// TestRepository_LoadEmptyStream 测试不存在的聚合返回零状态
func TestRepository_LoadEmptyStream(t *testing.T) {
	log := eventlog.NewMemoryEventLog()
	repo := newCounterRepo(log, nil, DefaultPolicy())

	result := repo.Load(context.Background(), "T1", "missing")
	require.Equal(t, LoadOK, result.Kind)
	assert.Equal(t, int64(0), result.State.Total)
	assert.Equal(t, uint64(0), result.Version)
}

// TestRepository_SnapshotReplayEquivalence 测试快照+增量重放与全量重放等价
func TestRepository_SnapshotReplayEquivalence(t *testing.T) {
	log := eventlog.NewMemoryEventLog()
	snaps := NewMemorySnapshotRepository[counterState]()

	// 事件数阈值设低，保证中途产生快照
	withSnap := newCounterRepo(log, snaps, Policy{EveryEvents: 10, MaxAge: time.Hour})
	scratch := newCounterRepo(log, nil, DefaultPolicy())

	streamID := Identity{BoundedContext: "test", AggregateType: "counter", SchemaVersion: 1, Tenant: "T1", EntityID: "c1"}.StreamID()

	appendCounterEvents(t, log, streamID, 25)
	first := withSnap.Load(context.Background(), "T1", "c1")
	require.Equal(t, LoadOK, first.Kind)
	require.Equal(t, 1, snaps.SaveCount(), "阈值已过，应当产生快照")

	appendCounterEvents(t, log, streamID, 7)

	fromSnapshot := withSnap.Load(context.Background(), "T1", "c1")
	fromScratch := scratch.Load(context.Background(), "T1", "c1")

	require.Equal(t, LoadOK, fromSnapshot.Kind)
	require.Equal(t, LoadOK, fromScratch.Kind)
	assert.Equal(t, fromScratch.State, fromSnapshot.State)
	assert.Equal(t, fromScratch.Version, fromSnapshot.Version)
	assert.Equal(t, uint64(32), fromSnapshot.Version)
}

// TestRepository_ApplyFailedAbortsLoad 测试 reducer 失败立即中止并附事件身份
func TestRepository_ApplyFailedAbortsLoad(t *testing.T) {
	log := eventlog.NewMemoryEventLog()
	repo := newCounterRepo(log, nil, DefaultPolicy())

	streamID := Identity{BoundedContext: "test", AggregateType: "counter", SchemaVersion: 1, Tenant: "T1", EntityID: "c1"}.StreamID()
	appendCounterEvents(t, log, streamID, 2)

	poison, err := eventlog.NewEnvelope("Poison", map[string]any{"delta": 1}, eventlog.Metadata{Tenant: "T1"})
	require.NoError(t, err)
	_, err = log.Append(context.Background(), streamID, []eventlog.EventEnvelope{poison}, eventlog.ExpectAny())
	require.NoError(t, err)

	appendCounterEvents(t, log, streamID, 2)

	result := repo.Load(context.Background(), "T1", "c1")
	require.Equal(t, LoadApplyFailed, result.Kind)
	require.NotNil(t, result.FailedEvent)
	assert.Equal(t, "Poison", result.FailedEvent.Type)
	assert.Equal(t, uint64(2), result.FailedEvent.Revision)
	assert.Equal(t, uint64(3), result.FailedEvent.Version)
	assert.Equal(t, errors.KindIntegrity, errors.Classify(result.Err))
}

// TestRepository_Cancellation 测试重放中途取消返回独立结果
func TestRepository_Cancellation(t *testing.T) {
	log := eventlog.NewMemoryEventLog()
	repo := newCounterRepo(log, nil, DefaultPolicy())

	streamID := Identity{BoundedContext: "test", AggregateType: "counter", SchemaVersion: 1, Tenant: "T1", EntityID: "c1"}.StreamID()
	appendCounterEvents(t, log, streamID, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := repo.Load(ctx, "T1", "c1")
	assert.Equal(t, LoadCancelled, result.Kind)
	assert.ErrorIs(t, result.Err, context.Canceled)
}

// TestRepository_MustLoad 测试抛错式包装保留失败细节
func TestRepository_MustLoad(t *testing.T) {
	log := eventlog.NewMemoryEventLog()
	repo := newCounterRepo(log, nil, DefaultPolicy())

	streamID := Identity{BoundedContext: "test", AggregateType: "counter", SchemaVersion: 1, Tenant: "T1", EntityID: "c1"}.StreamID()
	appendCounterEvents(t, log, streamID, 3)

	state, version, err := repo.MustLoad(context.Background(), "T1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.Total)
	assert.Equal(t, uint64(3), version)

	poison, perr := eventlog.NewEnvelope("Poison", map[string]any{"delta": 1}, eventlog.Metadata{Tenant: "T1"})
	require.NoError(t, perr)
	_, perr = log.Append(context.Background(), streamID, []eventlog.EventEnvelope{poison}, eventlog.ExpectAny())
	require.NoError(t, perr)

	_, _, err = repo.MustLoad(context.Background(), "T1", "c1")
	require.Error(t, err)
	assert.Equal(t, errors.KindIntegrity, errors.Classify(err))
}

// TestRepository_EstimateVersion 测试尾部读取估算
func TestRepository_EstimateVersion(t *testing.T) {
	log := eventlog.NewMemoryEventLog()
	repo := newCounterRepo(log, nil, DefaultPolicy())

	estimate, err := repo.EstimateVersion(context.Background(), "T1", "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), estimate)

	streamID := Identity{BoundedContext: "test", AggregateType: "counter", SchemaVersion: 1, Tenant: "T1", EntityID: "c1"}.StreamID()
	appendCounterEvents(t, log, streamID, 4)

	estimate, err = repo.EstimateVersion(context.Background(), "T1", "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), estimate)
}

// TestPolicy_ShouldSnapshot 测试快照策略阈值
func TestPolicy_ShouldSnapshot(t *testing.T) {
	policy := Policy{EveryEvents: 200, MaxAge: 5 * time.Minute}

	// 无新事件永不快照
	assert.False(t, policy.ShouldSnapshot(0, time.Now().Add(-time.Hour)))

	// 事件数阈值
	assert.False(t, policy.ShouldSnapshot(199, time.Now()))
	assert.True(t, policy.ShouldSnapshot(200, time.Now()))

	// 时间阈值（先到者生效）
	assert.True(t, policy.ShouldSnapshot(1, time.Now().Add(-6*time.Minute)))
	assert.False(t, policy.ShouldSnapshot(1, time.Now()))

	// 从未快照时只看事件数
	assert.False(t, policy.ShouldSnapshot(1, time.Time{}))
}
