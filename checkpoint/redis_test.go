package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esrun/eventlog"
)

// TestRedisStore_Key 测试键布局与哈希标签
func TestRedisStore_Key(t *testing.T) {
	store := NewRedisCheckpointStore(nil, RedisConfig{})

	// 组名包在花括号内作为集群哈希标签
	assert.Equal(t, "checkpoint:{orders-view}", store.Key("orders-view"))

	custom := NewRedisCheckpointStore(nil, RedisConfig{KeyPrefix: "es:cp:"})
	assert.Equal(t, "es:cp:{g}", custom.Key("g"))
}

// TestRedisStore_GroupFromKey 测试键名还原
func TestRedisStore_GroupFromKey(t *testing.T) {
	store := NewRedisCheckpointStore(nil, RedisConfig{})
	assert.Equal(t, "orders-view", store.groupFromKey("checkpoint:{orders-view}"))
}

// TestParsePosition 测试哈希字段解析
func TestParsePosition(t *testing.T) {
	pos, err := parsePosition(map[string]string{"commit": "18446744073709551615", "prepare": "42"})
	require.NoError(t, err)
	assert.Equal(t, eventlog.StreamPosition{Commit: 18446744073709551615, Prepare: 42}, *pos)

	_, err = parsePosition(map[string]string{"commit": "not-a-number", "prepare": "1"})
	assert.Error(t, err)

	_, err = parsePosition(map[string]string{})
	assert.Error(t, err)
}
