package projection

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"esrun/errors"
)

// upsertScript 原子更新插入脚本
//
// KEYS[1] 实体哈希，KEYS[2] 租户索引（必须同槽）。
// ARGV[1] 版本，ARGV[2] 索引分值，ARGV[3] 索引成员，
// ARGV[4..] 交替的字段名/字段值。
//
// 传入版本 ≤ 已存版本时整个脚本立即返回 0，不产生任何写入；
// 否则字段写入、版本推进、索引更新在同一原子单元内完成。
// redis.Script 以 SHA 复用脚本体，避免每次调用重传。
var upsertScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'version')
if stored and tonumber(stored) >= tonumber(ARGV[1]) then
	return 0
end
for i = 4, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
redis.call('HSET', KEYS[1], 'version', ARGV[1])
redis.call('HDEL', KEYS[1], 'deleted_at')
redis.call('PERSIST', KEYS[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// softDeleteScript 原子软删除脚本
//
// KEYS 同 upsertScript。ARGV[1] 版本，ARGV[2] deletedAt（ISO-8601），
// ARGV[3] 索引成员，ARGV[4] 自过期毫秒数。
var softDeleteScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'version')
if stored and tonumber(stored) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'deleted_at', ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

// RedisEntityStore Redis 投影实体存储
//
// 所有变更通过服务端脚本执行，单键槽内天然串行。
type RedisEntityStore struct {
	client redis.UniversalClient
}

// NewRedisEntityStore 创建 Redis 实体存储
func NewRedisEntityStore(client redis.UniversalClient) *RedisEntityStore {
	return &RedisEntityStore{client: client}
}

// Upsert 原子更新插入
func (s *RedisEntityStore) Upsert(ctx context.Context, op UpsertOp) (bool, error) {
	if err := validateLocality(op.EntityKey, op.IndexKey); err != nil {
		return false, err
	}

	args := make([]interface{}, 0, 3+2*len(op.Fields))
	args = append(args,
		strconv.FormatUint(op.Version, 10),
		strconv.FormatFloat(op.Score, 'f', -1, 64),
		op.Member,
	)
	for _, pair := range op.Fields {
		args = append(args, pair.Field, pair.Value)
	}

	res, err := upsertScript.Run(ctx, s.client, []string{op.EntityKey, op.IndexKey}, args...).Int64()
	if err != nil {
		return false, errors.Wrap(errors.KindInfrastructure, "projection upsert failed", err).
			With("entity_key", op.EntityKey)
	}
	return res == 1, nil
}

// SoftDelete 原子软删除
func (s *RedisEntityStore) SoftDelete(ctx context.Context, op SoftDeleteOp) (bool, error) {
	if err := validateLocality(op.EntityKey, op.IndexKey); err != nil {
		return false, err
	}

	res, err := softDeleteScript.Run(ctx, s.client,
		[]string{op.EntityKey, op.IndexKey},
		strconv.FormatUint(op.Version, 10),
		op.DeletedAt.UTC().Format(time.RFC3339Nano),
		op.Member,
		strconv.FormatInt(op.Expiry.Milliseconds(), 10),
	).Int64()
	if err != nil {
		return false, errors.Wrap(errors.KindInfrastructure, "projection soft delete failed", err).
			With("entity_key", op.EntityKey)
	}
	return res == 1, nil
}

// TryDedup 原子去重闸（SET NX + TTL）
func (s *RedisEntityStore) TryDedup(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	first, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, errors.Wrap(errors.KindInfrastructure, "dedup gate failed", err).With("key", key)
	}
	return first, nil
}

// GetVersionHint 读取版本提示
func (s *RedisEntityStore) GetVersionHint(ctx context.Context, key string) (uint64, bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(errors.KindInfrastructure, "version hint read failed", err).With("key", key)
	}
	version, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		// 提示只是优化，损坏时按缺失处理
		return 0, false, nil
	}
	return version, true, nil
}

// SetVersionHint 写入版本提示
func (s *RedisEntityStore) SetVersionHint(ctx context.Context, key string, version uint64, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, strconv.FormatUint(version, 10), ttl).Err(); err != nil {
		return errors.Wrap(errors.KindInfrastructure, "version hint write failed", err).With("key", key)
	}
	return nil
}

// Ensure interface compliance
var _ IEntityStore = (*RedisEntityStore)(nil)
