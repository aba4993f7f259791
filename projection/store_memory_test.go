package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUpsertOp(version uint64) UpsertOp {
	return UpsertOp{
		EntityKey: "proj:order:{T1}:42",
		IndexKey:  "proj:order:{T1}:index",
		Member:    "42",
		Version:   version,
		Score:     float64(version),
		Fields:    []FieldPair{{Field: "status", Value: "open"}},
	}
}

func TestMemoryEntityStore_Upsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()

	applied, err := store.Upsert(ctx, testUpsertOp(2))
	require.NoError(t, err)
	assert.True(t, applied)

	hash := store.Hash("proj:order:{T1}:42")
	assert.Equal(t, "2", hash["version"])
	assert.Equal(t, "open", hash["status"])
	assert.Equal(t, []string{"42"}, store.IndexMembers("proj:order:{T1}:index"))
}

func TestMemoryEntityStore_Upsert_StaleVersionRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()

	_, err := store.Upsert(ctx, testUpsertOp(2))
	require.NoError(t, err)

	// 等于或低于已存版本都拒绝，且不产生部分写入
	for _, version := range []uint64{2, 1} {
		op := testUpsertOp(version)
		op.Fields = []FieldPair{{Field: "status", Value: "corrupted"}}
		applied, err := store.Upsert(ctx, op)
		require.NoError(t, err)
		assert.False(t, applied)
	}

	hash := store.Hash("proj:order:{T1}:42")
	assert.Equal(t, "2", hash["version"])
	assert.Equal(t, "open", hash["status"])
}

func TestMemoryEntityStore_Upsert_RejectsCrossSlotKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()

	op := testUpsertOp(1)
	op.IndexKey = "proj:order:{T2}:index"
	_, err := store.Upsert(ctx, op)
	assert.Error(t, err)
}

func TestMemoryEntityStore_SoftDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()

	_, err := store.Upsert(ctx, testUpsertOp(1))
	require.NoError(t, err)

	applied, err := store.SoftDelete(ctx, SoftDeleteOp{
		EntityKey: "proj:order:{T1}:42",
		IndexKey:  "proj:order:{T1}:index",
		Member:    "42",
		Version:   2,
		DeletedAt: time.Now(),
		Expiry:    time.Hour,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	// 移出活跃索引，哈希本体保留（审计/恢复窗口）
	assert.Empty(t, store.IndexMembers("proj:order:{T1}:index"))
	hash := store.Hash("proj:order:{T1}:42")
	require.NotNil(t, hash)
	assert.Equal(t, "2", hash["version"])
	assert.NotEmpty(t, hash["deleted_at"])
}

func TestMemoryEntityStore_Upsert_ResurrectsDeleted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()

	_, err := store.SoftDelete(ctx, SoftDeleteOp{
		EntityKey: "proj:order:{T1}:42",
		IndexKey:  "proj:order:{T1}:index",
		Member:    "42",
		Version:   1,
		DeletedAt: time.Now(),
		Expiry:    time.Hour,
	})
	require.NoError(t, err)

	applied, err := store.Upsert(ctx, testUpsertOp(2))
	require.NoError(t, err)
	assert.True(t, applied)

	// 更高版本的更新清掉删除标记并取消自过期
	hash := store.Hash("proj:order:{T1}:42")
	assert.NotContains(t, hash, "deleted_at")
	assert.Equal(t, []string{"42"}, store.IndexMembers("proj:order:{T1}:index"))
}

func TestMemoryEntityStore_TryDedup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()

	first, err := store.TryDedup(ctx, "dedup:T1:order-T1-42:0", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.TryDedup(ctx, "dedup:T1:order-T1-42:0", time.Hour)
	require.NoError(t, err)
	assert.False(t, second)

	other, err := store.TryDedup(ctx, "dedup:T1:order-T1-42:1", time.Hour)
	require.NoError(t, err)
	assert.True(t, other)
}

func TestMemoryEntityStore_VersionHint(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore()

	_, exists, err := store.GetVersionHint(ctx, "ver:T1:order:42")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.SetVersionHint(ctx, "ver:T1:order:42", 7, time.Hour))

	version, exists, err := store.GetVersionHint(ctx, "ver:T1:order:42")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, uint64(7), version)
}
