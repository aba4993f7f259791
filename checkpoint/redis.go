package checkpoint

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"esrun/errors"
	"esrun/eventlog"
)

// setIfNewerScript 原子比较写入脚本
//
// 仅当传入 commit ≥ 已存 commit 时更新整个哈希。
// redis.Script 以 SHA 复用脚本体（EVALSHA，未加载时回退 EVAL），
// 避免每次调用重传脚本。
var setIfNewerScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'commit')
if stored and tonumber(stored) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'commit', ARGV[1], 'prepare', ARGV[2], 'updated_at', ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

// RedisConfig Redis 检查点存储配置
type RedisConfig struct {
	// KeyPrefix 键前缀，默认 "checkpoint:"
	KeyPrefix string

	// ScanCount SCAN 单批数量提示，默认 100
	ScanCount int64
}

// RedisCheckpointStore Redis 检查点存储
//
// 持久化布局：哈希 checkpoint:{group} = {commit, prepare, updated_at}。
// 组名包在花括号里作为集群哈希标签，保证同组的读写落在同一 slot。
type RedisCheckpointStore struct {
	client redis.UniversalClient
	cfg    RedisConfig
}

// NewRedisCheckpointStore 创建 Redis 检查点存储
func NewRedisCheckpointStore(client redis.UniversalClient, cfg RedisConfig) *RedisCheckpointStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "checkpoint:"
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 100
	}
	return &RedisCheckpointStore{client: client, cfg: cfg}
}

// Key 返回组对应的存储键
func (s *RedisCheckpointStore) Key(group string) string {
	return s.cfg.KeyPrefix + "{" + group + "}"
}

// groupFromKey 从存储键还原组名
func (s *RedisCheckpointStore) groupFromKey(key string) string {
	trimmed := strings.TrimPrefix(key, s.cfg.KeyPrefix)
	return strings.TrimSuffix(strings.TrimPrefix(trimmed, "{"), "}")
}

// Get 读取指定组的位置
//
// 检查点不存在返回 (nil, nil)，调用方按"从头开始"处理。
func (s *RedisCheckpointStore) Get(ctx context.Context, group string) (*eventlog.StreamPosition, error) {
	fields, err := s.client.HGetAll(ctx, s.Key(group)).Result()
	if err != nil {
		return nil, errors.Wrap(errors.KindInfrastructure, "checkpoint get failed", err).With("group", group)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	pos, err := parsePosition(fields)
	if err != nil {
		return nil, errors.Wrap(errors.KindIntegrity, "checkpoint fields corrupted", err).With("group", group)
	}
	return pos, nil
}

func parsePosition(fields map[string]string) (*eventlog.StreamPosition, error) {
	commit, err := strconv.ParseUint(fields["commit"], 10, 64)
	if err != nil {
		return nil, err
	}
	prepare, err := strconv.ParseUint(fields["prepare"], 10, 64)
	if err != nil {
		return nil, err
	}
	return &eventlog.StreamPosition{Commit: commit, Prepare: prepare}, nil
}

// Set 无条件写入位置
func (s *RedisCheckpointStore) Set(ctx context.Context, group string, pos eventlog.StreamPosition, ttl time.Duration) error {
	key := s.Key(group)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"commit", strconv.FormatUint(pos.Commit, 10),
		"prepare", strconv.FormatUint(pos.Prepare, 10),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(errors.KindInfrastructure, "checkpoint set failed", err).With("group", group)
	}
	return nil
}

// SetIfNewer 原子比较写入（服务端脚本）
func (s *RedisCheckpointStore) SetIfNewer(ctx context.Context, group string, pos eventlog.StreamPosition, ttl time.Duration) (bool, error) {
	res, err := setIfNewerScript.Run(ctx, s.client,
		[]string{s.Key(group)},
		strconv.FormatUint(pos.Commit, 10),
		strconv.FormatUint(pos.Prepare, 10),
		time.Now().UTC().Format(time.RFC3339Nano),
		strconv.FormatInt(ttl.Milliseconds(), 10),
	).Int64()
	if err != nil {
		return false, errors.Wrap(errors.KindInfrastructure, "checkpoint cas failed", err).With("group", group)
	}
	return res == 1, nil
}

// Delete 删除检查点
func (s *RedisCheckpointStore) Delete(ctx context.Context, group string) error {
	if err := s.client.Del(ctx, s.Key(group)).Err(); err != nil {
		return errors.Wrap(errors.KindInfrastructure, "checkpoint delete failed", err).With("group", group)
	}
	return nil
}

// Scan 游标分页遍历所有检查点
//
// 使用 SCAN 游标迭代，不阻塞键空间。
func (s *RedisCheckpointStore) Scan(ctx context.Context, cursor uint64, count int64) ([]Entry, uint64, error) {
	if count <= 0 {
		count = s.cfg.ScanCount
	}

	keys, next, err := s.client.Scan(ctx, cursor, s.cfg.KeyPrefix+"*", count).Result()
	if err != nil {
		return nil, 0, errors.Wrap(errors.KindInfrastructure, "checkpoint scan failed", err)
	}

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, 0, errors.Wrap(errors.KindInfrastructure, "checkpoint scan read failed", err).With("key", key)
		}
		if len(fields) == 0 {
			continue // 扫描与删除竞争，跳过已消失的键
		}
		pos, err := parsePosition(fields)
		if err != nil {
			return nil, 0, errors.Wrap(errors.KindIntegrity, "checkpoint fields corrupted", err).With("key", key)
		}
		entry := Entry{Group: s.groupFromKey(key), Position: *pos}
		if ts, tsErr := time.Parse(time.RFC3339Nano, fields["updated_at"]); tsErr == nil {
			entry.UpdatedAt = ts
		}
		entries = append(entries, entry)
	}

	return entries, next, nil
}

// GetAll 遍历返回所有检查点
func (s *RedisCheckpointStore) GetAll(ctx context.Context) ([]Entry, error) {
	var all []Entry
	var cursor uint64
	for {
		batch, next, err := s.Scan(ctx, cursor, s.cfg.ScanCount)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if next == 0 {
			return all, nil
		}
		cursor = next
	}
}

// Clear 删除所有检查点
func (s *RedisCheckpointStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.cfg.KeyPrefix+"*", s.cfg.ScanCount).Result()
		if err != nil {
			return errors.Wrap(errors.KindInfrastructure, "checkpoint clear failed", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return errors.Wrap(errors.KindInfrastructure, "checkpoint clear delete failed", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ensure interface compliance
var _ ICheckpointStore = (*RedisCheckpointStore)(nil)
