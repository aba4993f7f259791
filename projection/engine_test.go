package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esrun/eventlog"
)

// orderExtractor 测试提取器：事件数据形如
// {"id":"42","version":1,"deleted":false,"status":"open"}
func orderExtractor(ev Event) (Params, error) {
	var data map[string]any
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return Params{}, err
	}
	id, _ := data["id"].(string)
	if id == "" {
		return Params{}, fmt.Errorf("event %s has no id", ev.Type)
	}
	version, _ := data["version"].(float64)
	deleted, _ := data["deleted"].(bool)

	fields := make(map[string]any)
	for k, v := range data {
		if k == "id" || k == "version" || k == "deleted" {
			continue
		}
		fields[k] = v
	}
	return Params{
		EntityType: "order",
		EntityID:   id,
		Version:    uint64(version),
		Deleted:    deleted,
		UpdatedAt:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Fields:     fields,
	}, nil
}

// recordingTracker 记录上报的位置与结果
type recordingTracker struct {
	mu        sync.Mutex
	positions []eventlog.StreamPosition
	outcomes  []Outcome
	errs      []error
}

func (r *recordingTracker) ReportPosition(pos eventlog.StreamPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, pos)
}

func (r *recordingTracker) ReportOutcome(outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingTracker) ReportError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// forgetfulHintStore 丢弃所有版本提示的存储包装，
// 用于逼出存储端版本比较这道闸。
type forgetfulHintStore struct {
	IEntityStore
}

func (s forgetfulHintStore) GetVersionHint(ctx context.Context, key string) (uint64, bool, error) {
	return 0, false, nil
}

func (s forgetfulHintStore) SetVersionHint(ctx context.Context, key string, version uint64, ttl time.Duration) error {
	return nil
}

func orderEvent(revision uint64, version uint64, extra string) Event {
	data := fmt.Sprintf(`{"id":"42","version":%d%s}`, version, extra)
	return Event{
		StreamID: "order-T1-42",
		Revision: revision,
		Type:     "OrderUpdated",
		Data:     json.RawMessage(data),
		Metadata: eventlog.Metadata{Tenant: "T1"},
		Position: &eventlog.StreamPosition{Commit: revision, Prepare: revision},
	}
}

func newTestEngine(t *testing.T, store IEntityStore, tracker IProgressTracker) *Engine {
	t.Helper()
	engine, err := NewEngine(store, Config{
		Extract: orderExtractor,
		Tracker: tracker,
	})
	require.NoError(t, err)
	return engine
}

func TestEngine_AppliesAndProjects(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()
	engine := newTestEngine(t, store, nil)

	ev := Event{
		StreamID: "order-T1-42",
		Revision: 0,
		Type:     "OrderCreated",
		Data:     json.RawMessage(`{"id":"42","version":1,"status":"open"}`),
		Metadata: eventlog.Metadata{Tenant: "T1"},
	}

	outcome, err := engine.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	hash := store.Hash("proj:order:{T1}:42")
	require.NotNil(t, hash)
	assert.Equal(t, "1", hash["version"])
	assert.Equal(t, "open", hash["status"])
	assert.Equal(t, []string{"42"}, store.IndexMembers("proj:order:{T1}:index"))
}

func TestEngine_DoubleDelivery_SecondNeverApplies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()
	engine := newTestEngine(t, store, nil)

	ev := orderEvent(0, 1, `,"status":"open"`)

	first, err := engine.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, first)

	// 同一事件重复投递，去重闸拦截，读模型不变
	second, err := engine.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedDedup, second)

	hash := store.Hash("proj:order:{T1}:42")
	assert.Equal(t, "1", hash["version"])
	assert.Len(t, store.IndexMembers("proj:order:{T1}:index"), 1)
}

func TestEngine_OutOfOrderVersions_HighestWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()
	engine := newTestEngine(t, store, nil)

	// 乱序送达：版本 2、1、3（各自不同的日志版位）
	outcome, err := engine.Apply(ctx, orderEvent(1, 2, `,"status":"paid"`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = engine.Apply(ctx, orderEvent(0, 1, `,"status":"open"`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedHint, outcome)

	outcome, err = engine.Apply(ctx, orderEvent(2, 3, `,"status":"shipped"`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	hash := store.Hash("proj:order:{T1}:42")
	assert.Equal(t, "3", hash["version"])
	assert.Equal(t, "shipped", hash["status"])
}

func TestEngine_StaleVersion_BlockedByStoreCompare(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()
	engine := newTestEngine(t, forgetfulHintStore{store}, nil)

	_, err := engine.Apply(ctx, orderEvent(1, 2, `,"status":"paid"`))
	require.NoError(t, err)

	// 提示全部丢失时，过期版本仍被存储端原子比较挡下
	outcome, err := engine.Apply(ctx, orderEvent(0, 1, `,"status":"open"`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeStaleOCC, outcome)

	hash := store.Hash("proj:order:{T1}:42")
	assert.Equal(t, "paid", hash["status"])
}

func TestEngine_SoftDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()
	engine := newTestEngine(t, store, nil)

	_, err := engine.Apply(ctx, orderEvent(0, 1, `,"status":"open"`))
	require.NoError(t, err)

	outcome, err := engine.Apply(ctx, orderEvent(1, 2, `,"deleted":true`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	// 从活跃索引消失，哈希带删除标记保留
	assert.Empty(t, store.IndexMembers("proj:order:{T1}:index"))
	hash := store.Hash("proj:order:{T1}:42")
	require.NotNil(t, hash)
	assert.NotEmpty(t, hash["deleted_at"])
}

func TestEngine_DefaultTenant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()
	engine := newTestEngine(t, store, nil)

	ev := orderEvent(0, 1, `,"status":"open"`)
	ev.Metadata.Tenant = ""

	_, err := engine.Apply(ctx, ev)
	require.NoError(t, err)

	assert.NotNil(t, store.Hash("proj:order:{default}:42"))
}

func TestEngine_ExtractionFailure_StillReportsPosition(t *testing.T) {
	ctx := context.Background()
	tracker := &recordingTracker{}
	engine := newTestEngine(t, NewMemoryEntityStore(), tracker)

	ev := orderEvent(5, 1, "")
	ev.Data = json.RawMessage(`{"version":1}`) // 缺实体ID

	outcome, err := engine.Apply(ctx, ev)
	assert.Error(t, err)
	assert.Equal(t, OutcomeUnknown, outcome)

	// 失败也上报位置：毒事件不拖垮健康进度
	require.Len(t, tracker.positions, 1)
	assert.Equal(t, uint64(5), tracker.positions[0].Commit)
	assert.Equal(t, []Outcome{OutcomeUnknown}, tracker.outcomes)
	assert.Len(t, tracker.errs, 1)
}

func TestEngine_Handle_AdaptsResolvedEvent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()
	engine := newTestEngine(t, store, nil)

	resolved := eventlog.ResolvedEvent{
		StreamID: "order-T1-42",
		Revision: 0,
		Envelope: eventlog.EventEnvelope{
			Type:     "OrderCreated",
			Data:     json.RawMessage(`{"id":"42","version":1,"status":"open"}`),
			Metadata: eventlog.Metadata{Tenant: "T1"},
		},
		Position: eventlog.StreamPosition{Commit: 10, Prepare: 10},
	}

	require.NoError(t, engine.Handle(ctx, resolved))
	assert.Equal(t, "1", store.Hash("proj:order:{T1}:42")["version"])
}

func TestNewEngine_RequiresExtractorAndStore(t *testing.T) {
	_, err := NewEngine(nil, Config{Extract: orderExtractor})
	assert.Error(t, err)

	_, err = NewEngine(NewMemoryEntityStore(), Config{})
	assert.Error(t, err)
}
