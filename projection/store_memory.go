package projection

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryEntityStore 内存投影实体存储
//
// 用单个互斥锁围住与服务端脚本完全相同的读-比较-写序列，
// 行为与 Redis 实现等价（§并发模型下单组单写者已保证顺序，
// 锁只是对等的原子性兜底）。用于测试与本地开发。
type MemoryEntityStore struct {
	mu sync.Mutex

	hashes  map[string]map[string]string // 实体哈希
	indexes map[string]map[string]float64 // 租户索引：member -> score
	strings map[string]memoryString       // 去重标记与版本提示
	expiry  map[string]time.Time          // 实体哈希的自过期
}

type memoryString struct {
	value     string
	expiresAt time.Time
}

// NewMemoryEntityStore 创建内存实体存储
func NewMemoryEntityStore() *MemoryEntityStore {
	return &MemoryEntityStore{
		hashes:  make(map[string]map[string]string),
		indexes: make(map[string]map[string]float64),
		strings: make(map[string]memoryString),
		expiry:  make(map[string]time.Time),
	}
}

func (s *MemoryEntityStore) hashAlive(key string) bool {
	if exp, ok := s.expiry[key]; ok && !exp.IsZero() && time.Now().After(exp) {
		delete(s.hashes, key)
		delete(s.expiry, key)
		return false
	}
	_, ok := s.hashes[key]
	return ok
}

func (s *MemoryEntityStore) storedVersion(key string) (uint64, bool) {
	if !s.hashAlive(key) {
		return 0, false
	}
	raw, ok := s.hashes[key]["version"]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Upsert 原子更新插入（与脚本同序列：比较、写字段、推版本、更新索引）
func (s *MemoryEntityStore) Upsert(ctx context.Context, op UpsertOp) (bool, error) {
	if err := validateLocality(op.EntityKey, op.IndexKey); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.storedVersion(op.EntityKey); ok && stored >= op.Version {
		return false, nil
	}

	hash := s.hashes[op.EntityKey]
	if hash == nil {
		hash = make(map[string]string)
		s.hashes[op.EntityKey] = hash
	}
	for _, pair := range op.Fields {
		hash[pair.Field] = pair.Value
	}
	hash["version"] = strconv.FormatUint(op.Version, 10)
	delete(hash, "deleted_at")
	delete(s.expiry, op.EntityKey)

	index := s.indexes[op.IndexKey]
	if index == nil {
		index = make(map[string]float64)
		s.indexes[op.IndexKey] = index
	}
	index[op.Member] = op.Score

	return true, nil
}

// SoftDelete 原子软删除
func (s *MemoryEntityStore) SoftDelete(ctx context.Context, op SoftDeleteOp) (bool, error) {
	if err := validateLocality(op.EntityKey, op.IndexKey); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.storedVersion(op.EntityKey); ok && stored >= op.Version {
		return false, nil
	}

	hash := s.hashes[op.EntityKey]
	if hash == nil {
		hash = make(map[string]string)
		s.hashes[op.EntityKey] = hash
	}
	hash["version"] = strconv.FormatUint(op.Version, 10)
	hash["deleted_at"] = op.DeletedAt.UTC().Format(time.RFC3339Nano)

	if index := s.indexes[op.IndexKey]; index != nil {
		delete(index, op.Member)
	}
	if op.Expiry > 0 {
		s.expiry[op.EntityKey] = time.Now().Add(op.Expiry)
	}

	return true, nil
}

// TryDedup 原子去重闸
func (s *MemoryEntityStore) TryDedup(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.strings[key]; ok {
		if entry.expiresAt.IsZero() || time.Now().Before(entry.expiresAt) {
			return false, nil
		}
	}

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	s.strings[key] = memoryString{value: "1", expiresAt: expires}
	return true, nil
}

// GetVersionHint 读取版本提示
func (s *MemoryEntityStore) GetVersionHint(ctx context.Context, key string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.strings[key]
	if !ok || (!entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt)) {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(entry.value, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

// SetVersionHint 写入版本提示
func (s *MemoryEntityStore) SetVersionHint(ctx context.Context, key string, version uint64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	s.strings[key] = memoryString{value: strconv.FormatUint(version, 10), expiresAt: expires}
	return nil
}

// Hash 返回实体哈希的拷贝（测试辅助）
func (s *MemoryEntityStore) Hash(key string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hashAlive(key) {
		return nil
	}
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out
}

// IndexMembers 返回索引成员列表（测试辅助）
func (s *MemoryEntityStore) IndexMembers(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexes[key]
	members := make([]string, 0, len(index))
	for m := range index {
		members = append(members, m)
	}
	return members
}

// Ensure interface compliance
var _ IEntityStore = (*MemoryEntityStore)(nil)
